package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/metrics"
	"github.com/rs/zerolog"
)

// Artifact file names written by the offline clustering job.
const (
	AssignmentsFile = "assignments.json"
	LabelsFile      = "labels.json"
)

// LabelEntry is one cluster in labels.json.
type LabelEntry struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Size  int    `json:"size,omitempty"`
}

type labelsFile struct {
	Clusters []LabelEntry `json:"clusters"`
}

// ImportedConfig tunes the imported strategy.
type ImportedConfig struct {
	MinClusterSize int
}

// Imported reshapes externally computed assignments into clusters.
type Imported struct {
	assignments map[string]Assignment
	labels      map[int]string
	cfg         ImportedConfig
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

// NewImported creates the strategy from already-parsed artifacts.
func NewImported(assignments map[string]Assignment, labels []LabelEntry, cfg ImportedConfig, log zerolog.Logger, m *metrics.Metrics) *Imported {
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = DefaultMinClusterSize
	}
	byID := make(map[int]string, len(labels))
	for _, l := range labels {
		byID[l.ID] = l.Label
	}
	return &Imported{
		assignments: assignments,
		labels:      byID,
		cfg:         cfg,
		log:         log.With().Str("component", "cluster").Str("strategy", "imported").Logger(),
		metrics:     m,
	}
}

// LoadImported reads assignments.json (required) and labels.json (optional)
// from dir.
func LoadImported(dir string, cfg ImportedConfig, log zerolog.Logger, m *metrics.Metrics) (*Imported, error) {
	assignments, err := ReadAssignments(filepath.Join(dir, AssignmentsFile))
	if err != nil {
		return nil, err
	}
	labels, err := ReadLabels(filepath.Join(dir, LabelsFile))
	if err != nil {
		return nil, err
	}
	return NewImported(assignments, labels, cfg, log, m), nil
}

// ReadAssignments parses {conversationId: {cluster_id, distance_to_centroid}}.
func ReadAssignments(path string) (map[string]Assignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading assignments: %w", err)
	}
	var out map[string]Assignment
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArtifact, path, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s: no assignments", ErrMalformedArtifact, path)
	}
	for id, a := range out {
		if a.ClusterID < NoiseClusterID {
			return nil, fmt.Errorf("%w: %s: invalid cluster id %d for %s", ErrMalformedArtifact, path, a.ClusterID, id)
		}
		if a.ClusterID != NoiseClusterID && a.DistanceToCentroid == nil {
			return nil, fmt.Errorf("%w: %s: missing distance for %s", ErrMalformedArtifact, path, id)
		}
	}
	return out, nil
}

// ReadLabels parses labels.json. A missing file yields no labels.
func ReadLabels(path string) ([]LabelEntry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	var lf labelsFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArtifact, path, err)
	}
	return lf.Clusters, nil
}

// Name implements Source.
func (im *Imported) Name() string { return "imported" }

// Cluster groups convs by their imported assignment. Conversations without
// an assignment are counted as unassigned and left out.
func (im *Imported) Cluster(ctx context.Context, convs []faq.ResolvedConversation) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &Result{
		Assignments: make(map[string]Assignment, len(convs)),
		Stats: Stats{
			Strategy:           im.Name(),
			TotalConversations: len(convs),
			MinClusterSize:     im.cfg.MinClusterSize,
		},
	}

	groups := make(map[int][]member)
	var ids []int
	for _, c := range convs {
		a, ok := im.assignments[c.ConversationID]
		if !ok {
			res.Stats.UnassignedCount++
			continue
		}
		res.Assignments[c.ConversationID] = a
		if a.ClusterID == NoiseClusterID {
			res.Stats.NoiseCount++
			continue
		}
		if _, seen := groups[a.ClusterID]; !seen {
			ids = append(ids, a.ClusterID)
		}
		groups[a.ClusterID] = append(groups[a.ClusterID], member{conv: c, distance: *a.DistanceToCentroid})
	}
	sort.Ints(ids)

	for _, id := range ids {
		members := groups[id]
		if len(members) < im.cfg.MinClusterSize {
			res.Stats.DroppedClusters++
			continue
		}
		sort.SliceStable(members, func(a, b int) bool { return members[a].distance < members[b].distance })

		var sum float64
		for _, m := range members {
			sum += m.distance
		}
		conf := DistanceConfidence(sum / float64(len(members)))
		c, s := buildCluster(clusterName(id), im.labels[id], members, conf, conf)
		res.Clusters = append(res.Clusters, c)
		res.Summaries = append(res.Summaries, s)
	}

	sortBySize(res.Clusters, res.Summaries)
	finishStats(&res.Stats, res.Clusters)
	im.metrics.RecordClusters(im.Name(), len(res.Clusters))

	if res.Stats.UnassignedCount > 0 {
		im.log.Warn().Int("unassigned", res.Stats.UnassignedCount).Msg("conversations missing from imported assignments")
	}
	im.log.Info().
		Int("conversations", len(convs)).
		Int("clusters", len(res.Clusters)).
		Int("noise", res.Stats.NoiseCount).
		Msg("imported clustering reshaped")
	return res, nil
}

// DistanceConfidence maps an average distance to centroid onto (0,1].
func DistanceConfidence(distance float64) float64 {
	if distance < 0 || math.IsNaN(distance) {
		distance = 0
	}
	return faq.Clamp01(math.Exp(-2 * distance))
}
