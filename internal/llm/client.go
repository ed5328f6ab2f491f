package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/metrics"
	"github.com/personas-nlq/backend/pkg/circuitbreaker"
	"github.com/personas-nlq/backend/pkg/logger"
	"github.com/personas-nlq/backend/pkg/retry"
	"github.com/personas-nlq/backend/pkg/utils"
)

type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	CacheSize   int
	CacheTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 400
	}
	return c
}

// Client adds retries, a circuit breaker and a completion cache in front of
// a Provider. It satisfies query.Completer.
type Client struct {
	provider    Provider
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
	cache       *expirable.LRU[string, string]
}

// New builds the configured provider and wraps it in a Client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	provider, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(provider, cfg), nil
}

func NewClient(provider Provider, cfg Config) *Client {
	cfg = cfg.withDefaults()

	name := "llm_" + provider.Name()
	cb := circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		OnStateChange: func(name, _, to string) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(to))
		},
		Logger: logger.GetLogger(),
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(metrics.BreakerStateValue(cb.State()))

	retryConfig := retry.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BackoffBase,
		MaxDelay:    30 * time.Second,
		Logger:      logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()),
		zap.Int("max_attempts", cfg.MaxAttempts),
	)

	return &Client{
		provider:    provider,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		cb:          cb,
		retryConfig: retryConfig,
		cache:       expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

func (c *Client) Provider() string {
	return c.provider.Name()
}

func (c *Client) Model() string {
	return c.provider.Model()
}

// BreakerState returns "closed", "half-open" or "open".
func (c *Client) BreakerState() string {
	return c.cb.State()
}

// Available reports whether calls are currently let through.
func (c *Client) Available() bool {
	return c.cb.State() != "open"
}

// Complete returns the cleaned completion for prompt. Identical prompts are
// served from cache. Refusals yield ErrNonAnswer and are not cached.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	key := utils.HashString(system + "\x00" + prompt)
	if answer, ok := c.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("llm").Inc()
		return answer, nil
	}
	metrics.CacheMisses.WithLabelValues("llm").Inc()

	req := Request{
		SystemPrompt: system,
		UserPrompt:   prompt,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	}

	var completion *Completion
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func(attempt int) error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			resp, err := c.provider.Generate(callCtx, req)
			if err != nil {
				metrics.LLMCalls.WithLabelValues(c.provider.Name(), "error").Inc()
				return err
			}
			metrics.LLMCalls.WithLabelValues(c.provider.Name(), "success").Inc()
			metrics.LLMTokensUsed.WithLabelValues(c.provider.Model(), "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.provider.Model(), "completion").Add(float64(resp.Usage.CompletionTokens))

			logger.Debug("LLM completion generated",
				zap.Int("attempt", attempt+1),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
				zap.Duration("elapsed", time.Since(start)),
			)

			completion = resp
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			logger.Warn("LLM circuit open, skipping call", zap.String("provider", c.provider.Name()))
		}
		return "", fmt.Errorf("failed to complete prompt: %w", err)
	}

	answer := Clean(completion.Content)
	if answer == "" {
		return "", ErrEmptyCompletion
	}
	if IsNonAnswer(answer) {
		return "", ErrNonAnswer
	}

	c.cache.Add(key, answer)
	return answer, nil
}
