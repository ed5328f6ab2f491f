package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashQuery hashes a query after trimming and lowercasing, so trivially
// different spellings of the same question share a key.
func HashQuery(query string) string {
	return HashString(strings.ToLower(strings.Join(strings.Fields(query), " ")))
}

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if n <= 0 || len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
