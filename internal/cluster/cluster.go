// Package cluster groups mined conversations into clusters of semantically
// similar questions.
//
// Two strategies share the Source interface:
//   - Greedy embeds questions and assigns each to the most similar existing
//     seed, or starts a new cluster.
//   - Imported reshapes cluster assignments computed by an offline job.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hurttlocker/faqmine/internal/faq"
)

const (
	DefaultThreshold      = 0.75
	DefaultMinClusterSize = 3
	// NoiseClusterID marks an assignment that belongs to no cluster.
	NoiseClusterID = -1
	// RepresentativeCount is how many closest members a summary lists.
	RepresentativeCount = 5
)

// ErrMalformedArtifact is returned when an imported clustering file cannot be
// parsed.
var ErrMalformedArtifact = errors.New("malformed clustering artifact")

// Source is a clustering strategy.
type Source interface {
	Name() string
	Cluster(ctx context.Context, convs []faq.ResolvedConversation) (*Result, error)
}

// Assignment places one conversation in a cluster. Distance is nil for
// noise.
type Assignment struct {
	ClusterID          int      `json:"cluster_id"`
	DistanceToCentroid *float64 `json:"distance_to_centroid"`
}

// TagCount is a tag and how many members carry it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Summary describes one cluster for reporting and review.
type Summary struct {
	ID                      string     `json:"id"`
	Label                   string     `json:"label"`
	Size                    int        `json:"size"`
	Tier                    int        `json:"tier,omitempty"`
	AvgDistance             float64    `json:"avg_distance"`
	Confidence              float64    `json:"confidence"`
	RepresentativeQuestions []string   `json:"representative_messages"`
	RepresentativeIDs       []string   `json:"representative_conversation_ids"`
	TopTags                 []TagCount `json:"top_existing_tags"`
	TagCoverage             float64    `json:"tag_coverage"`
}

// Stats summarizes a clustering run.
type Stats struct {
	Strategy               string  `json:"strategy"`
	TotalConversations     int     `json:"total_conversations"`
	ClusteredConversations int     `json:"clustered_conversations"`
	NoiseCount             int     `json:"noise_points"`
	NoisePct               float64 `json:"noise_pct"`
	UnassignedCount        int     `json:"unassigned,omitempty"`
	SkippedEmbeddings      int     `json:"skipped_embeddings,omitempty"`
	ClusterCount           int     `json:"num_clusters"`
	DroppedClusters        int     `json:"dropped_clusters"`
	LargestClusterPct      float64 `json:"largest_cluster_pct"`
	ClusterSizes           []int   `json:"cluster_sizes"`
	Threshold              float64 `json:"threshold,omitempty"`
	MinClusterSize         int     `json:"min_cluster_size"`
}

// Result is the output of a clustering run. Clusters are sorted by
// descending size; Summaries are parallel to Clusters.
type Result struct {
	Clusters    []faq.ConversationCluster `json:"clusters"`
	Summaries   []Summary                 `json:"summaries"`
	Assignments map[string]Assignment     `json:"assignments"`
	Stats       Stats                     `json:"stats"`
}

// member is a conversation with its distance to the cluster centre.
type member struct {
	conv     faq.ResolvedConversation
	distance float64
}

// buildCluster assembles a cluster and its summary from members sorted by
// ascending distance.
func buildCluster(id, label string, members []member, cohesion, confidence float64) (faq.ConversationCluster, Summary) {
	c := faq.ConversationCluster{
		ID:            id,
		Conversations: make([]faq.ResolvedConversation, 0, len(members)),
		Cohesion:      faq.Clamp01(cohesion),
	}
	var unchanged int
	var distSum float64
	for i, m := range members {
		c.Conversations = append(c.Conversations, m.conv)
		if m.conv.WasUnchanged {
			unchanged++
		}
		distSum += m.distance
		c.MostRecent = latest(c.MostRecent, m.conv.ResolvedAt, i == 0)
		c.Oldest = earliest(c.Oldest, m.conv.ResolvedAt, i == 0)
	}
	if len(members) > 0 {
		c.CentroidText = members[0].conv.Question
		c.UnchangedRate = faq.Clamp01(float64(unchanged) / float64(len(members)))
	}

	s := Summary{
		ID:         id,
		Size:       len(members),
		Confidence: faq.Clamp01(confidence),
	}
	if len(members) > 0 {
		s.AvgDistance = distSum / float64(len(members))
	}
	for i := 0; i < len(members) && i < RepresentativeCount; i++ {
		s.RepresentativeQuestions = append(s.RepresentativeQuestions, members[i].conv.Question)
		s.RepresentativeIDs = append(s.RepresentativeIDs, members[i].conv.ConversationID)
	}
	s.TopTags, s.TagCoverage = TagStats(c.Conversations)

	if label == "" {
		label = GenerateLabel(id, s.TopTags, s.RepresentativeQuestions)
	}
	c.Label = label
	s.Label = label
	c.Tier = TierFor(label)
	s.Tier = c.Tier
	return c, s
}

func latest(cur, t time.Time, first bool) time.Time {
	if first || t.After(cur) {
		return t
	}
	return cur
}

func earliest(cur, t time.Time, first bool) time.Time {
	if first || t.Before(cur) {
		return t
	}
	return cur
}

// sortBySize orders clusters (and their parallel summaries) by descending
// size, keeping creation order among equals.
func sortBySize(clusters []faq.ConversationCluster, summaries []Summary) {
	idx := make([]int, len(clusters))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return clusters[idx[a]].Size() > clusters[idx[b]].Size()
	})
	cs := make([]faq.ConversationCluster, len(clusters))
	ss := make([]Summary, len(summaries))
	for to, from := range idx {
		cs[to] = clusters[from]
		ss[to] = summaries[from]
	}
	copy(clusters, cs)
	copy(summaries, ss)
}

// finishStats fills the derived counters once clusters are final.
func finishStats(st *Stats, clusters []faq.ConversationCluster) {
	st.ClusterCount = len(clusters)
	st.ClusterSizes = make([]int, 0, len(clusters))
	largest := 0
	for _, c := range clusters {
		st.ClusterSizes = append(st.ClusterSizes, c.Size())
		st.ClusteredConversations += c.Size()
		if c.Size() > largest {
			largest = c.Size()
		}
	}
	if st.TotalConversations > 0 {
		st.NoisePct = float64(st.NoiseCount) / float64(st.TotalConversations) * 100
		st.LargestClusterPct = float64(largest) / float64(st.TotalConversations) * 100
	}
}

func clusterName(n int) string {
	return fmt.Sprintf("cluster-%d", n)
}

func floatPtr(v float64) *float64 {
	return &v
}
