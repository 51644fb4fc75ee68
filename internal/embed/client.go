// Package embed turns question text into vectors via an OpenAI-compatible
// /v1/embeddings endpoint.
//
// Supported providers:
// - ollama: http://localhost:11434/v1/embeddings
// - openai: https://api.openai.com/v1/embeddings
// - openrouter: https://openrouter.ai/api/v1/embeddings
// - custom: user-specified endpoint
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Embedder generates embedding vectors from text. EmbedBatch returns one
// vector per input, in input order; empty inputs get a nil vector.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds embedding provider configuration.
type Config struct {
	Provider    string // "ollama", "openai", "openrouter", "custom", "test"
	Model       string
	Endpoint    string
	APIKey      string
	MaxRetries  int           // default 3
	Timeout     time.Duration // per request, default 60s
	BackoffBase time.Duration // first retry delay, default 1s
}

var defaultEndpoints = map[string]string{
	"ollama":     "http://localhost:11434/v1/embeddings",
	"openai":     "https://api.openai.com/v1/embeddings",
	"openrouter": "https://openrouter.ai/api/v1/embeddings",
}

// ParseProviderModel splits "provider/model". The model may itself contain
// slashes, e.g. "openrouter/sentence-transformers/all-MiniLM-L6-v2".
func ParseProviderModel(v string) (provider, model string, err error) {
	slash := strings.Index(v, "/")
	if slash == -1 {
		return "", "", fmt.Errorf("invalid embed model %q: expected 'provider/model'", v)
	}
	provider, model = v[:slash], v[slash+1:]
	if provider == "" || model == "" {
		return "", "", fmt.Errorf("invalid embed model %q: provider and model are required", v)
	}
	return provider, model, nil
}

// DefaultEndpoint returns the well-known endpoint for provider, or "".
func DefaultEndpoint(provider string) string {
	return defaultEndpoints[provider]
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Provider != "ollama" && c.Provider != "test" && c.APIKey == "" {
		return fmt.Errorf("API key is required for provider %q", c.Provider)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

type request struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type response struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// HTTPError is a non-200 response from the provider.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client implements Embedder over HTTP.
type Client struct {
	cfg        Config
	http       *http.Client
	dimensions atomic.Int64
}

// NewClient creates a client; provider defaults fill a missing endpoint.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint(cfg.Provider)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embed config: %w", err)
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Dimensions returns the vector size seen so far, or 0 before the first call.
func (c *Client) Dimensions() int {
	return int(c.dimensions.Load())
}

// EmbedBatch embeds texts in one API call, retrying with exponential backoff.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	nonEmpty := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			nonEmpty = append(nonEmpty, t)
			positions = append(positions, i)
		}
	}
	result := make([][]float32, len(texts))
	if len(nonEmpty) == 0 {
		return result, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		vectors, err := c.attempt(ctx, nonEmpty)
		if err == nil {
			for i, v := range vectors {
				result[positions[i]] = v
				if len(v) > 0 {
					c.dimensions.Store(int64(len(v)))
				}
			}
			return result, nil
		}
		lastErr = err
		if attempt == c.cfg.MaxRetries || !retryable(err) {
			break
		}

		backoff := c.cfg.BackoffBase << attempt
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests && httpErr.RetryAfter > 0 {
			backoff = httpErr.RetryAfter
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("embedding failed after retries: %w", lastErr)
}

// retryable treats 4xx other than 408/429 as permanent.
func retryable(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return true
	}
	if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return httpErr.StatusCode >= 500
}

func (c *Client) attempt(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(request{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.Provider == "openrouter" {
		req.Header.Set("HTTP-Referer", "https://github.com/hurttlocker/faqmine")
		req.Header.Set("X-Title", "faqmine")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if h := resp.Header.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(raw), RetryAfter: retryAfter}
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
