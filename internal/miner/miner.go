// Package miner turns resolved support conversations into question/answer
// pairs. Each conversation is fetched, filtered for noise, and correlated with
// the support agent's draft history independently; one failure never aborts
// the batch.
package miner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/metrics"
	"github.com/hurttlocker/faqmine/internal/noise"
	"github.com/hurttlocker/faqmine/internal/source"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency     = 8
	DefaultItemTimeout     = 30 * time.Second
	DefaultUnchangedWindow = 5 * time.Minute
)

// Skip reasons reported in Result.Skipped.
const (
	SkipFetchError  = "fetch_error"
	SkipTimeout     = "timeout"
	SkipEmptyThread = "empty_thread"
	SkipTooShort    = "too_short"
	SkipNoise       = "noise"
)

// Config tunes a Miner. Zero values take the defaults above.
type Config struct {
	Concurrency     int
	ItemTimeout     time.Duration
	UnchangedWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = DefaultItemTimeout
	}
	if c.UnchangedWindow <= 0 {
		c.UnchangedWindow = DefaultUnchangedWindow
	}
	return c
}

// Miner extracts ResolvedConversations from a DataSource.
type Miner struct {
	src     source.DataSource
	actions source.ActionLog
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Miner. actions and m may be nil; without an action log every
// conversation is treated as edited.
func New(src source.DataSource, actions source.ActionLog, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Miner {
	return &Miner{
		src:     src,
		actions: actions,
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "miner").Logger(),
		metrics: m,
	}
}

// Result is the output of one mining pass.
type Result struct {
	Conversations []faq.ResolvedConversation `json:"conversations"`
	FilterStats   *noise.FilterStats         `json:"filter_stats"`
	Skipped       map[string]int             `json:"skipped"`
}

type outcome struct {
	conv       *faq.ResolvedConversation
	classified bool
	filter     noise.Result
	skip       string
}

// Mine processes convs concurrently and returns the mined pairs in input
// order. Only cancellation of ctx is returned as an error.
func (m *Miner) Mine(ctx context.Context, convs []faq.Conversation) (*Result, error) {
	outcomes := make([]outcome, len(convs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i := range convs {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			itemCtx, cancel := context.WithTimeout(gctx, m.cfg.ItemTimeout)
			defer cancel()
			outcomes[i] = m.mineOne(itemCtx, convs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("mining conversations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mining conversations: %w", err)
	}

	res := &Result{
		Conversations: make([]faq.ResolvedConversation, 0, len(convs)),
		FilterStats:   noise.NewFilterStats(),
		Skipped:       make(map[string]int),
	}
	for _, o := range outcomes {
		if o.classified {
			res.FilterStats.Record(o.filter)
			if o.filter.Filtered {
				m.metrics.RecordFiltered(string(o.filter.Reason))
			}
		}
		if o.skip != "" {
			res.Skipped[o.skip]++
			m.metrics.RecordSkipped(o.skip)
			continue
		}
		res.Conversations = append(res.Conversations, *o.conv)
		m.metrics.RecordMined()
	}

	m.log.Info().
		Int("input", len(convs)).
		Int("mined", len(res.Conversations)).
		Interface("skipped", res.Skipped).
		Str("filter", res.FilterStats.String()).
		Msg("mining complete")
	return res, nil
}

// MineOne extracts a single conversation. The bool is false when the
// conversation was skipped.
func (m *Miner) MineOne(ctx context.Context, conv faq.Conversation) (faq.ResolvedConversation, bool) {
	o := m.mineOne(ctx, conv)
	if o.conv == nil {
		return faq.ResolvedConversation{}, false
	}
	return *o.conv, true
}

func (m *Miner) mineOne(ctx context.Context, conv faq.Conversation) outcome {
	log := m.log.With().Str("conversation_id", conv.ID).Logger()

	msgs, err := m.src.GetMessages(ctx, conv.ID)
	if err != nil {
		reason := SkipFetchError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = SkipTimeout
		}
		log.Warn().Err(err).Str("reason", reason).Msg("skipping conversation")
		return outcome{skip: reason}
	}
	if len(msgs) == 0 {
		log.Debug().Msg("skipping empty conversation")
		return outcome{skip: SkipEmptyThread}
	}

	question := ExtractQuestion(msgs)
	answer := ExtractAnswer(msgs)
	if question == "" || answer == "" {
		log.Debug().Msg("skipping one-sided conversation")
		return outcome{skip: SkipEmptyThread}
	}

	o := outcome{classified: true, filter: noise.Classify(question, FirstInboundSender(msgs))}
	if o.filter.Filtered {
		log.Debug().Str("noise_reason", string(o.filter.Reason)).Msg("filtered as noise")
		o.skip = SkipNoise
		return o
	}
	if tooShort(question) || tooShort(answer) {
		o.skip = SkipTooShort
		return o
	}

	unchanged, similarity := m.correlate(ctx, conv)
	o.conv = &faq.ResolvedConversation{
		ConversationID:  conv.ID,
		Question:        question,
		Answer:          answer,
		Subject:         conv.Subject,
		ResolvedAt:      conv.ResolvedAt,
		AppID:           conv.AppID,
		WasUnchanged:    unchanged,
		DraftSimilarity: similarity,
		Tags:            conv.Tags,
		MessageCount:    len(msgs),
	}
	return o
}

// correlate finds the agent action closest to the resolution time, within
// the configured window, and reports whether its draft went out unchanged.
func (m *Miner) correlate(ctx context.Context, conv faq.Conversation) (bool, *float64) {
	if m.actions == nil || conv.ResolvedAt.IsZero() {
		return false, nil
	}
	actions, err := m.actions.ActionsForConversation(ctx, conv.ID)
	if err != nil {
		m.log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("action lookup failed; treating as edited")
		return false, nil
	}
	return Correlate(actions, conv.ResolvedAt, m.cfg.UnchangedWindow)
}

// Correlate picks the action nearest to resolvedAt within ±window. No
// matching action means the answer is not considered unchanged.
func Correlate(actions []source.AgentAction, resolvedAt time.Time, window time.Duration) (bool, *float64) {
	var best *source.AgentAction
	var bestDelta time.Duration
	for i := range actions {
		delta := actions[i].CreatedAt.Sub(resolvedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > window {
			continue
		}
		if best == nil || delta < bestDelta {
			best = &actions[i]
			bestDelta = delta
		}
	}
	if best == nil {
		return false, nil
	}
	return best.Outcome == source.OutcomeUnchanged, best.DraftSimilarity
}
