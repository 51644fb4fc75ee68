package cluster

import (
	"context"
	"fmt"
	"sort"

	"github.com/hurttlocker/faqmine/internal/embed"
	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/metrics"
	"github.com/hurttlocker/faqmine/internal/textsim"
	"github.com/rs/zerolog"
)

// GreedyConfig tunes the greedy strategy.
type GreedyConfig struct {
	Threshold      float64 // cosine similarity needed to join a cluster
	MinClusterSize int
}

// Greedy clusters by single-pass threshold assignment over fresh embeddings.
type Greedy struct {
	embedder embed.Embedder
	cfg      GreedyConfig
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// NewGreedy creates a greedy clusterer. Zero config values take defaults.
func NewGreedy(e embed.Embedder, cfg GreedyConfig, log zerolog.Logger, m *metrics.Metrics) *Greedy {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = DefaultMinClusterSize
	}
	return &Greedy{
		embedder: e,
		cfg:      cfg,
		log:      log.With().Str("component", "cluster").Str("strategy", "greedy").Logger(),
		metrics:  m,
	}
}

// Name implements Source.
func (g *Greedy) Name() string { return "greedy" }

// Cluster embeds every question and groups the conversations.
func (g *Greedy) Cluster(ctx context.Context, convs []faq.ResolvedConversation) (*Result, error) {
	texts := make([]string, len(convs))
	for i, c := range convs {
		texts[i] = c.Question
	}
	vectors, err := g.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding questions: %w", err)
	}
	if len(vectors) != len(convs) {
		return nil, fmt.Errorf("embedding questions: expected %d vectors, got %d", len(convs), len(vectors))
	}

	res := g.clusterVectors(convs, vectors)
	g.metrics.RecordClusters(g.Name(), len(res.Clusters))
	g.log.Info().
		Int("conversations", len(convs)).
		Int("clusters", len(res.Clusters)).
		Int("dropped", res.Stats.DroppedClusters).
		Int("skipped_embeddings", res.Stats.SkippedEmbeddings).
		Msg("clustering complete")
	return res, nil
}

// arenaCluster is a transient cluster; members index into the input slice.
type arenaCluster struct {
	seed    int
	members []int
}

// GreedyAssign assigns every vector to a dense cluster id in input order.
// The first usable vector seeds cluster 0. Each later vector joins the
// cluster whose seed is most similar when that similarity reaches threshold,
// otherwise it seeds a new cluster. Empty vectors get NoiseClusterID.
func GreedyAssign(vectors [][]float32, threshold float64) []int {
	assign, _ := greedyArena(vectors, threshold)
	return assign
}

func greedyArena(vectors [][]float32, threshold float64) ([]int, []arenaCluster) {
	assign := make([]int, len(vectors))
	var arena []arenaCluster
	for i, v := range vectors {
		if len(v) == 0 {
			assign[i] = NoiseClusterID
			continue
		}
		best, bestSim := -1, 0.0
		for id := range arena {
			sim := textsim.Cosine(v, vectors[arena[id].seed])
			if best == -1 || sim > bestSim {
				best, bestSim = id, sim
			}
		}
		if best >= 0 && bestSim >= threshold {
			arena[best].members = append(arena[best].members, i)
			assign[i] = best
			continue
		}
		arena = append(arena, arenaCluster{seed: i, members: []int{i}})
		assign[i] = len(arena) - 1
	}
	return assign, arena
}

func (g *Greedy) clusterVectors(convs []faq.ResolvedConversation, vectors [][]float32) *Result {
	_, arena := greedyArena(vectors, g.cfg.Threshold)

	res := &Result{
		Assignments: make(map[string]Assignment, len(convs)),
		Stats: Stats{
			Strategy:           g.Name(),
			TotalConversations: len(convs),
			Threshold:          g.cfg.Threshold,
			MinClusterSize:     g.cfg.MinClusterSize,
		},
	}
	for i, v := range vectors {
		if len(v) == 0 {
			res.Stats.SkippedEmbeddings++
			res.Assignments[convs[i].ConversationID] = Assignment{ClusterID: NoiseClusterID}
			g.log.Warn().Str("conversation_id", convs[i].ConversationID).Msg("empty embedding; skipping conversation")
		}
	}

	for id, ac := range arena {
		if len(ac.members) < g.cfg.MinClusterSize {
			res.Stats.DroppedClusters++
			for _, idx := range ac.members {
				res.Assignments[convs[idx].ConversationID] = Assignment{ClusterID: NoiseClusterID}
				res.Stats.NoiseCount++
			}
			continue
		}

		seed := vectors[ac.seed]
		members := make([]member, 0, len(ac.members))
		for _, idx := range ac.members {
			dist := 1 - textsim.Cosine(vectors[idx], seed)
			if dist < 0 {
				dist = 0
			}
			members = append(members, member{conv: convs[idx], distance: dist})
			res.Assignments[convs[idx].ConversationID] = Assignment{ClusterID: id + 1, DistanceToCentroid: floatPtr(dist)}
		}
		sort.SliceStable(members, func(a, b int) bool { return members[a].distance < members[b].distance })

		c, s := buildCluster(clusterName(id+1), "", members, g.cfg.Threshold, g.cfg.Threshold)
		res.Clusters = append(res.Clusters, c)
		res.Summaries = append(res.Summaries, s)
	}

	sortBySize(res.Clusters, res.Summaries)
	finishStats(&res.Stats, res.Clusters)
	return res
}
