package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeServer returns vectors whose first component is the input length.
func fakeServer(t *testing.T, calls *atomic.Int32, failFirst int32, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failFirst {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"try later"}`))
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var resp struct {
			Data []map[string]interface{} `json:"data"`
		}
		// Reverse order to prove the client sorts by index.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, map[string]interface{}{
				"index":     i,
				"embedding": []float32{float32(len(req.Input[i])), 1},
			})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(Config{Provider: "test", Model: "m", Endpoint: endpoint, BackoffBase: time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestParseProviderModel(t *testing.T) {
	tests := []struct {
		in        string
		provider  string
		model     string
		expectErr bool
	}{
		{"ollama/all-minilm", "ollama", "all-minilm", false},
		{"openrouter/sentence-transformers/all-MiniLM-L6-v2", "openrouter", "sentence-transformers/all-MiniLM-L6-v2", false},
		{"ollama", "", "", true},
		{"/model", "", "", true},
		{"provider/", "", "", true},
	}
	for _, tt := range tests {
		p, m, err := ParseProviderModel(tt.in)
		if (err != nil) != tt.expectErr {
			t.Errorf("ParseProviderModel(%q) err = %v", tt.in, err)
			continue
		}
		if p != tt.provider || m != tt.model {
			t.Errorf("ParseProviderModel(%q) = %q, %q", tt.in, p, m)
		}
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{Provider: "openai", Model: "text-embedding-3-small"}); err == nil {
		t.Fatal("expected missing API key error")
	}
	c, err := NewClient(Config{Provider: "ollama", Model: "all-minilm"})
	if err != nil {
		t.Fatalf("ollama needs no key: %v", err)
	}
	if c.cfg.Endpoint != DefaultEndpoint("ollama") {
		t.Fatalf("endpoint = %q", c.cfg.Endpoint)
	}
	if _, err := NewClient(Config{Provider: "custom", Model: "x", APIKey: "k"}); err == nil {
		t.Fatal("custom provider without endpoint must fail")
	}
}

func TestEmbedBatchOrderAndEmptyTexts(t *testing.T) {
	var calls atomic.Int32
	srv := fakeServer(t, &calls, 0, 0)
	defer srv.Close()

	c := testClient(t, srv.URL)
	got, err := c.EmbedBatch(context.Background(), []string{"abc", "  ", "abcdef"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	if got[0][0] != 3 || got[2][0] != 6 {
		t.Fatalf("order not preserved: %v", got)
	}
	if got[1] != nil {
		t.Fatalf("empty text should yield nil vector, got %v", got[1])
	}
	if c.Dimensions() != 2 {
		t.Fatalf("Dimensions = %d", c.Dimensions())
	}
}

func TestEmbedBatchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := fakeServer(t, &calls, 2, http.StatusTooManyRequests)
	defer srv.Close()

	got, err := testClient(t, srv.URL).EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if calls.Load() != 3 || len(got) != 1 {
		t.Fatalf("calls = %d, results = %d", calls.Load(), len(got))
	}
}

func TestEmbedBatchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := fakeServer(t, &calls, 10, http.StatusUnauthorized)
	defer srv.Close()

	_, err := testClient(t, srv.URL).EmbedBatch(context.Background(), []string{"hello"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

type countingEmbedder struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batches = append(c.batches, append([]string(nil), texts...))
	c.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestBatcherSplitsAndPreservesOrder(t *testing.T) {
	inner := &countingEmbedder{}
	b := NewBatcher(inner, 2, 0, zerolog.Nop(), nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	got, err := b.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(inner.batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(inner.batches))
	}
	for i, v := range got {
		if int(v[0]) != len(texts[i]) {
			t.Fatalf("result %d out of order: %v", i, v)
		}
	}
}

func TestBatcherSpacesBatches(t *testing.T) {
	inner := &countingEmbedder{}
	b := NewBatcher(inner, 1, 30*time.Millisecond, zerolog.Nop(), nil)

	start := time.Now()
	if _, err := b.EmbedBatch(context.Background(), []string{"a", "b", "c"}); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	// First batch is immediate, the next two wait one interval each.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("batches were not spaced: %v", elapsed)
	}
}

func TestCachedEmbedderForwardsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 10)
	if err != nil {
		t.Fatalf("NewCachedEmbedder: %v", err)
	}
	ctx := context.Background()

	if _, err := c.EmbedBatch(ctx, []string{"one", "two"}); err != nil {
		t.Fatal(err)
	}
	got, err := c.EmbedBatch(ctx, []string{"two", "three", "one"})
	if err != nil {
		t.Fatal(err)
	}
	if len(inner.batches) != 2 || len(inner.batches[1]) != 1 || inner.batches[1][0] != "three" {
		t.Fatalf("unexpected forwarded batches: %v", inner.batches)
	}
	if got[0][0] != 3 || got[1][0] != 5 || got[2][0] != 3 {
		t.Fatalf("unexpected vectors: %v", got)
	}
	if c.Len() != 3 {
		t.Fatalf("cache len = %d", c.Len())
	}
}
