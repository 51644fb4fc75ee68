package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/hurttlocker/faqmine/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize  = 100
	DefaultBatchDelay = 100 * time.Millisecond
)

// Batcher splits large inputs into fixed-size batches and spaces the calls
// by a fixed delay. Output order matches input order.
type Batcher struct {
	inner   Embedder
	size    int
	limiter *rate.Limiter
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewBatcher wraps inner. size <= 0 uses DefaultBatchSize; delay < 0 uses
// DefaultBatchDelay and delay == 0 disables spacing.
func NewBatcher(inner Embedder, size int, delay time.Duration, log zerolog.Logger, m *metrics.Metrics) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if delay < 0 {
		delay = DefaultBatchDelay
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Batcher{
		inner:   inner,
		size:    size,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.With().Str("component", "embed").Logger(),
		metrics: m,
	}
}

// EmbedBatch embeds texts batch by batch. A batch that still fails after the
// client's own retries aborts the call.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := start + b.size
		if end > len(texts) {
			end = len(texts)
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for embedding slot: %w", err)
		}

		vectors, err := b.inner.EmbedBatch(ctx, texts[start:end])
		b.metrics.RecordEmbeddingBatch(err)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embedding batch %d-%d: expected %d vectors, got %d", start, end, end-start, len(vectors))
		}
		out = append(out, vectors...)
		b.log.Debug().Int("from", start).Int("to", end).Int("total", len(texts)).Msg("embedded batch")
	}
	return out, nil
}
