package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personas-nlq/backend/pkg/circuitbreaker"
)

type reply struct {
	content string
	err     error
}

type fakeProvider struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	last    Request
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

// Generate pops the next scripted reply, repeating the last one when the
// script runs out.
func (f *fakeProvider) Generate(_ context.Context, req Request) (*Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.last = req
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Completion{Content: r.content, Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastConfig() Config {
	return Config{MaxAttempts: 3, BackoffBase: time.Millisecond, Timeout: time.Second, MaxTokens: 100}
}

func TestClient_CompleteCachesByPrompt(t *testing.T) {
	p := &fakeProvider{replies: []reply{{content: "  Hay 5 personas.  "}}}
	c := NewClient(p, fastConfig())

	first, err := c.Complete(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	second, err := c.Complete(context.Background(), "sys", "prompt")
	require.NoError(t, err)

	assert.Equal(t, "Hay 5 personas.", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, "sys", p.last.SystemPrompt)
	assert.Equal(t, 100, p.last.MaxTokens)

	_, err = c.Complete(context.Background(), "sys", "other prompt")
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())
}

func TestClient_RetriesUntilSuccess(t *testing.T) {
	p := &fakeProvider{replies: []reply{
		{err: errors.New("503")},
		{err: errors.New("timeout")},
		{content: "ok"},
	}}
	c := NewClient(p, fastConfig())

	answer, err := c.Complete(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, 3, p.callCount())
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	upstream := errors.New("upstream down")
	p := &fakeProvider{replies: []reply{{err: upstream}}}
	c := NewClient(p, fastConfig())

	_, err := c.Complete(context.Background(), "sys", "prompt")
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, 3, p.callCount())
}

func TestClient_NonAnswerIsNotCached(t *testing.T) {
	p := &fakeProvider{replies: []reply{{content: "No tengo suficiente información para responder."}}}
	c := NewClient(p, fastConfig())

	_, err := c.Complete(context.Background(), "sys", "prompt")
	assert.ErrorIs(t, err, ErrNonAnswer)
	_, err = c.Complete(context.Background(), "sys", "prompt")
	assert.ErrorIs(t, err, ErrNonAnswer)
	assert.Equal(t, 2, p.callCount())
}

func TestClient_EmptyCompletion(t *testing.T) {
	p := &fakeProvider{replies: []reply{{content: "   "}}}
	c := NewClient(p, fastConfig())

	_, err := c.Complete(context.Background(), "sys", "prompt")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestClient_BackoffHonoursContext(t *testing.T) {
	p := &fakeProvider{replies: []reply{{err: errors.New("503")}}}
	cfg := fastConfig()
	cfg.BackoffBase = time.Hour
	c := NewClient(p, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Complete(ctx, "sys", "prompt")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, p.callCount())
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	p := &fakeProvider{replies: []reply{{err: errors.New("503")}}}
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	c := NewClient(p, cfg)

	for i := 0; i < 5; i++ {
		_, err := c.Complete(context.Background(), "sys", "prompt")
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())
	assert.False(t, c.Available())

	_, err := c.Complete(context.Background(), "sys", "prompt")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 5, p.callCount())
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Provider: ProviderOpenAI})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewProvider(context.Background(), Config{Provider: "claude-local", APIKey: "k"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	p, err := NewProvider(context.Background(), Config{Provider: ProviderOpenAI, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())
	assert.Equal(t, defaultOpenAIModel, p.Model())
}

func TestOpenAIProvider_Generate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "<p>Hay <b>5</b> personas.</p>"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL+"/v1", "test-model")
	c := NewClient(p, fastConfig())

	answer, err := c.Complete(context.Background(), "Eres un analista.", "¿Cuántas personas hay?")
	require.NoError(t, err)

	assert.Equal(t, "Hay 5 personas.", answer)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Eres un analista.", got.Messages[0].Content)
	assert.Equal(t, "¿Cuántas personas hay?", got.Messages[1].Content)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "Hay 5 personas.\nFin", Clean("<p>Hay <b>5</b> personas.</p><p>Fin</p>"))
	assert.Equal(t, "hola\n\nmundo", Clean("  hola \n\n\n mundo "))
	assert.Equal(t, "", Clean("   "))
	assert.Equal(t, "Edad media: 35 años", Clean("Edad media: 35 años"))
}

func TestIsNonAnswer(t *testing.T) {
	assert.True(t, IsNonAnswer("Lo siento, no tengo suficiente información para responder."))
	assert.True(t, IsNonAnswer("Insufficient information."))
	assert.True(t, IsNonAnswer("INFORMACIÓN INSUFICIENTE"))
	assert.False(t, IsNonAnswer("Hay 5 personas registradas."))
}
