// Package pipeline runs one FAQ mining pass end to end: fetch resolved
// conversations, mine question/answer pairs, cluster them, turn clusters
// into candidates, persist artifacts, and optionally queue the candidates
// for review. Each stage finishes before the next starts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/faqmine/internal/artifact"
	"github.com/hurttlocker/faqmine/internal/cluster"
	"github.com/hurttlocker/faqmine/internal/dedup"
	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/metrics"
	"github.com/hurttlocker/faqmine/internal/miner"
	"github.com/hurttlocker/faqmine/internal/noise"
	"github.com/hurttlocker/faqmine/internal/scoring"
	"github.com/hurttlocker/faqmine/internal/source"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingAppID is returned when Run is called without an app id.
	ErrMissingAppID = errors.New("app id is required")
	// ErrNoEmbedder is returned when no clustering strategy is configured,
	// which happens when embedding credentials are missing.
	ErrNoEmbedder = errors.New("no embedding provider configured")
)

// Modes select how clusters become candidates.
const (
	// ModeScored runs the multi-factor scorer and deduplicates.
	ModeScored = "scored"
	// ModeCluster scores each cluster by size, unchanged rate, and cohesion.
	ModeCluster = "cluster"
)

// Options for a single run.
type Options struct {
	AppID       string
	Since       *time.Time
	Limit       int
	Version     string
	Mode        string
	SaveToQueue bool
}

// Queue is the part of the review queue the pipeline writes to.
type Queue interface {
	SaveCandidatesToQueue(ctx context.Context, cands []faq.FaqCandidate, appID string) (int, error)
}

// Deps are the collaborators a Pipeline runs against. Actions, Queue,
// Artifacts, Golden, and Metrics are optional.
type Deps struct {
	Source    source.DataSource
	Actions   source.ActionLog
	Clusterer cluster.Source
	Queue     Queue
	Artifacts *artifact.Writer
	Golden    []faq.GoldenResponse
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
}

// Config tunes a Pipeline.
type Config struct {
	Miner          miner.Config
	DedupThreshold float64
}

// Pipeline wires the stages together.
type Pipeline struct {
	src       source.DataSource
	miner     *miner.Miner
	clusterer cluster.Source
	scorer    *scoring.Scorer
	queue     Queue
	artifacts *artifact.Writer
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New builds a pipeline. A nil Clusterer is allowed here and reported as
// ErrNoEmbedder by Run so read-only commands can still construct one.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = dedup.DefaultThreshold
	}
	log := deps.Log.With().Str("component", "pipeline").Logger()
	return &Pipeline{
		src:       deps.Source,
		miner:     miner.New(deps.Source, deps.Actions, cfg.Miner, deps.Log, deps.Metrics),
		clusterer: deps.Clusterer,
		scorer:    scoring.NewScorer(deps.Golden, deps.Log),
		queue:     deps.Queue,
		artifacts: deps.Artifacts,
		cfg:       cfg,
		log:       log,
		metrics:   deps.Metrics,
		now:       time.Now,
	}, nil
}

// Report summarizes a run. It is also written as stats.json.
type Report struct {
	Version       string             `json:"version"`
	AppID         string             `json:"app_id"`
	Mode          string             `json:"mode"`
	Strategy      string             `json:"strategy"`
	StartedAt     time.Time          `json:"started_at"`
	Duration      string             `json:"duration"`
	Conversations int                `json:"conversations"`
	Mined         int                `json:"mined"`
	Skipped       map[string]int     `json:"skipped"`
	FilterStats   *noise.FilterStats `json:"filter_stats"`
	Clustering    cluster.Stats      `json:"clustering"`
	Candidates    int                `json:"candidates"`
	Dedup         *dedup.Report      `json:"dedup,omitempty"`
	Queued        int                `json:"queued"`
	Artifacts     []string           `json:"artifacts,omitempty"`
}

// CandidateSummary is the trimmed record written to candidates.json.
type CandidateSummary struct {
	ID                string   `json:"id"`
	Question          string   `json:"question"`
	Answer            string   `json:"answer"`
	Confidence        float64  `json:"confidence"`
	ClusterID         string   `json:"cluster_id"`
	ClusterSize       int      `json:"cluster_size"`
	Tags              []string `json:"tags"`
	SuggestedCategory string   `json:"suggested_category,omitempty"`
}

type extractionResult struct {
	Version    string                   `json:"version"`
	AppID      string                   `json:"app_id"`
	Mode       string                   `json:"mode"`
	Scored     []faq.ExtractedCandidate `json:"scored_candidates,omitempty"`
	Candidates []faq.FaqCandidate       `json:"candidates"`
	Dedup      *dedup.Report            `json:"dedup,omitempty"`
}

type clustersFile struct {
	Stats    cluster.Stats     `json:"stats"`
	Clusters []cluster.Summary `json:"clusters"`
}

// Run executes one pass. Missing configuration is returned before any work
// starts; per-conversation failures are counted in the report.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	opts.AppID = strings.TrimSpace(opts.AppID)
	if opts.AppID == "" {
		return nil, ErrMissingAppID
	}
	if p.clusterer == nil {
		return nil, ErrNoEmbedder
	}
	if opts.SaveToQueue && p.queue == nil {
		return nil, fmt.Errorf("saving to queue requested but no queue configured")
	}
	switch opts.Mode {
	case "":
		opts.Mode = ModeScored
	case ModeScored, ModeCluster:
	default:
		return nil, fmt.Errorf("unknown mode %q", opts.Mode)
	}
	started := p.now()
	if opts.Version == "" {
		opts.Version = started.UTC().Format("20060102-150405")
	}
	log := p.log.With().Str("app_id", opts.AppID).Str("version", opts.Version).Logger()

	report := &Report{
		Version:   opts.Version,
		AppID:     opts.AppID,
		Mode:      opts.Mode,
		Strategy:  p.clusterer.Name(),
		StartedAt: started.UTC(),
	}

	stage := time.Now()
	convs, err := p.src.GetConversations(ctx, source.Query{AppID: opts.AppID, Since: opts.Since, Limit: opts.Limit})
	if err != nil {
		return nil, fmt.Errorf("fetching conversations: %w", err)
	}
	p.metrics.ObserveStage("fetch", stage)
	report.Conversations = len(convs)
	log.Info().Int("conversations", len(convs)).Msg("fetched conversations")

	stage = time.Now()
	mined, err := p.miner.Mine(ctx, convs)
	if err != nil {
		return nil, fmt.Errorf("mining conversations: %w", err)
	}
	p.metrics.ObserveStage("mine", stage)
	report.Mined = len(mined.Conversations)
	report.Skipped = mined.Skipped
	report.FilterStats = mined.FilterStats

	stage = time.Now()
	clusters, err := p.clusterer.Cluster(ctx, mined.Conversations)
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}
	p.metrics.ObserveStage("cluster", stage)
	report.Clustering = clusters.Stats

	stage = time.Now()
	extraction := extractionResult{Version: opts.Version, AppID: opts.AppID, Mode: opts.Mode}
	var candidates []faq.FaqCandidate
	switch opts.Mode {
	case ModeCluster:
		candidates = p.scorer.BuildClusterCandidates(clusters.Clusters)
	default:
		scored := p.scorer.ScoreClusters(clusters.Clusters)
		deduped, rep := dedup.Deduplicate(scored, p.cfg.DedupThreshold)
		report.Dedup = &rep
		extraction.Dedup = &rep
		extraction.Scored = deduped
		candidates = make([]faq.FaqCandidate, len(deduped))
		for i, c := range deduped {
			candidates[i] = scoring.ToFaqCandidate(c)
		}
	}
	p.metrics.ObserveStage("score", stage)
	extraction.Candidates = candidates
	report.Candidates = len(candidates)

	if p.artifacts != nil {
		stage = time.Now()
		// stats.json gets the report as it stands before queueing.
		report.Duration = p.now().Sub(started).Round(time.Millisecond).String()
		paths, err := p.artifacts.Write(opts.Version, map[string]interface{}{
			artifact.ClusteringResultFile: clusters,
			artifact.AssignmentsFile:      clusters.Assignments,
			artifact.ClustersFile:         clustersFile{Stats: clusters.Stats, Clusters: clusters.Summaries},
			artifact.ExtractionResultFile: extraction,
			artifact.CandidatesFile:       summarize(candidates),
			artifact.StatsFile:            report,
		})
		if err != nil {
			return nil, fmt.Errorf("writing artifacts: %w", err)
		}
		report.Artifacts = paths
		p.metrics.ObserveStage("artifacts", stage)
		log.Info().Str("dir", p.artifacts.VersionDir(opts.Version)).Int("files", len(paths)).Msg("artifacts written")
	}

	if opts.SaveToQueue {
		stage = time.Now()
		n, err := p.queue.SaveCandidatesToQueue(ctx, candidates, opts.AppID)
		if err != nil {
			return nil, fmt.Errorf("saving candidates to queue: %w", err)
		}
		report.Queued = n
		p.metrics.ObserveStage("queue", stage)
	}

	report.Duration = p.now().Sub(started).Round(time.Millisecond).String()
	log.Info().
		Int("mined", report.Mined).
		Int("clusters", report.Clustering.ClusterCount).
		Int("candidates", report.Candidates).
		Int("queued", report.Queued).
		Str("duration", report.Duration).
		Msg("run complete")
	return report, nil
}

func summarize(cands []faq.FaqCandidate) []CandidateSummary {
	out := make([]CandidateSummary, len(cands))
	for i, c := range cands {
		out[i] = CandidateSummary{
			ID:                c.ID,
			Question:          c.Question,
			Answer:            c.Answer,
			Confidence:        c.Confidence,
			ClusterID:         c.ClusterID,
			ClusterSize:       c.ClusterSize,
			Tags:              c.Tags,
			SuggestedCategory: c.SuggestedCategory,
		}
	}
	return out
}
