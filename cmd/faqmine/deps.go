package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hurttlocker/faqmine/internal/cluster"
	"github.com/hurttlocker/faqmine/internal/embed"
	"github.com/hurttlocker/faqmine/internal/knowledge"
	"github.com/hurttlocker/faqmine/internal/queue"
	"github.com/hurttlocker/faqmine/internal/source"
)

func openSource() (*source.SQLiteSource, error) {
	src, err := source.OpenSQLite(source.SQLiteConfig{DBPath: cfg.CacheDB.Value})
	if err != nil {
		return nil, fmt.Errorf("opening conversation cache: %w", err)
	}
	return src, nil
}

// reviewDeps bundles the queue with the knowledge base it publishes to.
type reviewDeps struct {
	queue     *queue.Queue
	knowledge *knowledge.Store
	store     *queue.RedisStore
}

func (d *reviewDeps) Close() {
	if d.store != nil {
		d.store.Close()
	}
	if d.knowledge != nil {
		d.knowledge.Close()
	}
}

// openReview connects to Redis and opens the knowledge base. A Redis that
// does not answer a ping is reported here rather than on first use.
func openReview(ctx context.Context) (*reviewDeps, error) {
	store, err := queue.NewRedisStore(cfg.RedisURL.Value)
	if err != nil {
		return nil, fmt.Errorf("connecting to review queue: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, fmt.Errorf("review queue unreachable at %s: %w", cfg.RedisURL.Value, err)
	}

	kb, err := knowledge.Open(knowledge.Config{DBPath: cfg.KnowledgeDB.Value})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening knowledge base: %w", err)
	}

	return &reviewDeps{
		queue:     queue.New(store, kb, logger, appStats),
		knowledge: kb,
		store:     store,
	}, nil
}

// newEmbedder builds client -> rate-limited batcher -> LRU memo. Missing
// credentials return an error the caller may downgrade.
func newEmbedder() (embed.Embedder, error) {
	provider, model, err := embed.ParseProviderModel(cfg.EmbedProvider.Value)
	if err != nil {
		return nil, err
	}
	client, err := embed.NewClient(embed.Config{
		Provider: provider,
		Model:    model,
		Endpoint: cfg.EmbedEndpoint.Value,
		APIKey:   cfg.EffectiveEmbedAPIKey().Value,
	})
	if err != nil {
		return nil, err
	}
	batcher := embed.NewBatcher(client, embed.DefaultBatchSize,
		cfg.BatchDelay.Duration(embed.DefaultBatchDelay), logger, appStats)
	return embed.NewCachedEmbedder(batcher, embed.DefaultCacheSize)
}

// newClusterer picks the imported strategy when importedDir is set, and the
// greedy strategy otherwise. A nil result means no embedder is configured.
func newClusterer(importedDir string) (cluster.Source, error) {
	minSize := cfg.MinClusterSize.Int(cluster.DefaultMinClusterSize)
	if importedDir != "" {
		im, err := cluster.LoadImported(importedDir, cluster.ImportedConfig{MinClusterSize: minSize}, logger, appStats)
		if err != nil {
			return nil, fmt.Errorf("loading imported clusters: %w", err)
		}
		return im, nil
	}

	e, err := newEmbedder()
	if err != nil {
		logger.Warn().Err(err).Str("embed", cfg.EmbedProvider.Value).Msg("embedding provider unavailable")
		return nil, nil
	}
	return cluster.NewGreedy(e, cluster.GreedyConfig{
		Threshold:      cfg.Threshold.Float(cluster.DefaultThreshold),
		MinClusterSize: minSize,
	}, logger, appStats), nil
}
