// Package metrics provides Prometheus metrics for the mining pipeline and
// review queue.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	MessagesFiltered     *prometheus.CounterVec
	ConversationsMined   prometheus.Counter
	ConversationsSkipped *prometheus.CounterVec
	EmbeddingBatches     *prometheus.CounterVec
	ClustersFormed       *prometheus.CounterVec
	CandidatesQueued     prometheus.Counter
	ReviewActions        *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. Pass
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesFiltered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faqmine_messages_filtered_total",
				Help: "Inbound questions dropped by the noise filter",
			},
			[]string{"reason"},
		),
		ConversationsMined: f.NewCounter(
			prometheus.CounterOpts{
				Name: "faqmine_conversations_mined_total",
				Help: "Conversations that yielded a question/answer pair",
			},
		),
		ConversationsSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faqmine_conversations_skipped_total",
				Help: "Conversations skipped during mining",
			},
			[]string{"reason"},
		),
		EmbeddingBatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faqmine_embedding_batches_total",
				Help: "Embedding batches sent to the provider",
			},
			[]string{"status"},
		),
		ClustersFormed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faqmine_clusters_formed_total",
				Help: "Clusters kept after size filtering",
			},
			[]string{"strategy"},
		),
		CandidatesQueued: f.NewCounter(
			prometheus.CounterOpts{
				Name: "faqmine_candidates_queued_total",
				Help: "Candidates newly saved to the review queue",
			},
		),
		ReviewActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faqmine_review_actions_total",
				Help: "Review actions by action and result",
			},
			[]string{"action", "result"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faqmine_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"stage"},
		),
	}
}

// RecordFiltered counts one filtered question.
func (m *Metrics) RecordFiltered(reason string) {
	if m == nil {
		return
	}
	m.MessagesFiltered.WithLabelValues(reason).Inc()
}

// RecordMined counts one mined conversation.
func (m *Metrics) RecordMined() {
	if m == nil {
		return
	}
	m.ConversationsMined.Inc()
}

// RecordSkipped counts one skipped conversation.
func (m *Metrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.ConversationsSkipped.WithLabelValues(reason).Inc()
}

// RecordEmbeddingBatch counts one batch call.
func (m *Metrics) RecordEmbeddingBatch(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.EmbeddingBatches.WithLabelValues(status).Inc()
}

// RecordClusters adds n clusters formed by strategy.
func (m *Metrics) RecordClusters(strategy string, n int) {
	if m == nil {
		return
	}
	m.ClustersFormed.WithLabelValues(strategy).Add(float64(n))
}

// RecordQueued adds n newly queued candidates.
func (m *Metrics) RecordQueued(n int) {
	if m == nil {
		return
	}
	m.CandidatesQueued.Add(float64(n))
}

// RecordReview counts one review action.
func (m *Metrics) RecordReview(action string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.ReviewActions.WithLabelValues(action, result).Inc()
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
