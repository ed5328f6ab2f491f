package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSeed(t *testing.T) {
	seeds, err := readSeed(filepath.Join("..", "..", "data", "personas.example.yaml"))
	require.NoError(t, err)
	require.Len(t, seeds, 3)
	assert.Equal(t, "Ana", seeds[0].FirstName)
	assert.Equal(t, "1000000001", seeds[0].DocumentID)
	assert.Equal(t, "1990-04-03", seeds[1].BirthDate)
}

func TestReadSeed_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := readSeed(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("personas: []\n"), 0o644))
	_, err = readSeed(empty)
	assert.ErrorContains(t, err, "no personas")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("personas: [\n"), 0o644))
	_, err = readSeed(broken)
	assert.ErrorContains(t, err, "failed to parse")
}
