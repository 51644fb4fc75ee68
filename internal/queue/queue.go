// Package queue is the review workflow for FAQ candidates.
//
// Each candidate is stored as one JSON record keyed by id, and per-app sets
// index candidate ids by status. A candidate moves pending → approved or
// pending → rejected and never leaves a terminal state. Approval publishes a
// knowledge article before the record is rewritten. Articles are keyed by
// candidate id, so retrying an approval whose record update failed replaces
// the article instead of publishing a second one.
//
// Read-modify-write sequences are not transactional: two reviewers acting on
// the same id race and the last writer wins.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/knowledge"
	"github.com/hurttlocker/faqmine/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by GetCandidate when the id has no record.
var ErrNotFound = errors.New("candidate not found")

// Review actions reported in ReviewResult.Action.
const (
	ActionApproved = "approved"
	ActionEdited   = "edited"
	ActionRejected = "rejected"
)

// Publisher receives approved candidates as knowledge articles.
type Publisher interface {
	StoreArticle(ctx context.Context, a knowledge.Article) (*knowledge.StoredArticle, error)
}

// ApproveOptions carries reviewer overrides. Empty fields keep the
// candidate's values.
type ApproveOptions struct {
	Question   string
	Answer     string
	Category   string
	EditNotes  string
	ReviewedBy string
}

// ReviewResult is the outcome of an approve or reject call. Failures are
// reported here rather than as errors.
type ReviewResult struct {
	Success     bool   `json:"success"`
	CandidateID string `json:"candidate_id"`
	Action      string `json:"action,omitempty"`
	ArticleID   string `json:"article_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// QueueStats holds per-status counts for one app.
type QueueStats struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Total    int64 `json:"total"`
}

// Queue is the review queue.
type Queue struct {
	store   Store
	pub     Publisher
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a queue. pub may be nil, in which case approvals fail.
func New(store Store, pub Publisher, log zerolog.Logger, m *metrics.Metrics) *Queue {
	return &Queue{store: store, pub: pub, log: log, metrics: m, now: time.Now}
}

// CandidateKey is the record key for a candidate id.
func CandidateKey(id string) string {
	return "faq:candidate:" + id
}

// SetKey is the index set for an app and status.
func SetKey(appID string, status faq.Status) string {
	return fmt.Sprintf("faq:queue:%s:%s", appID, status)
}

var allStatuses = []faq.Status{faq.StatusPending, faq.StatusApproved, faq.StatusRejected}

// SaveCandidatesToQueue stores new candidates as pending. Ids that already
// have a record are skipped. A record whose index write fails is removed
// again so a later save can retry it. Returns how many were newly saved.
func (q *Queue) SaveCandidatesToQueue(ctx context.Context, cands []faq.FaqCandidate, appID string) (int, error) {
	saved := 0
	for _, c := range cands {
		if c.ID == "" {
			continue
		}
		rec := faq.StoredFaqCandidate{FaqCandidate: c, AppID: appID, StoredAt: q.now().UTC()}
		rec.Status = faq.StatusPending
		data, err := json.Marshal(rec)
		if err != nil {
			return saved, fmt.Errorf("encoding candidate %s: %w", c.ID, err)
		}
		created, err := q.store.SetNX(ctx, CandidateKey(c.ID), string(data))
		if err != nil {
			return saved, fmt.Errorf("saving candidate %s: %w", c.ID, err)
		}
		if !created {
			continue
		}
		if err := q.store.SAdd(ctx, SetKey(appID, faq.StatusPending), c.ID); err != nil {
			// An unindexed record would make every later save skip this id.
			if delErr := q.store.Del(ctx, CandidateKey(c.ID)); delErr != nil {
				q.log.Warn().Err(delErr).Str("candidate_id", c.ID).Msg("rolling back unindexed candidate failed")
			}
			return saved, fmt.Errorf("indexing candidate %s: %w", c.ID, err)
		}
		saved++
	}
	q.metrics.RecordQueued(saved)
	q.log.Info().Str("app_id", appID).Int("offered", len(cands)).Int("saved", saved).Msg("candidates queued")
	return saved, nil
}

// GetCandidate loads one candidate record.
func (q *Queue) GetCandidate(ctx context.Context, id string) (*faq.StoredFaqCandidate, error) {
	raw, ok, err := q.store.Get(ctx, CandidateKey(id))
	if err != nil {
		return nil, fmt.Errorf("loading candidate %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var rec faq.StoredFaqCandidate
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decoding candidate %s: %w", id, err)
	}
	return &rec, nil
}

// ApproveCandidate publishes a pending candidate and marks it approved.
func (q *Queue) ApproveCandidate(ctx context.Context, id string, opts ApproveOptions) ReviewResult {
	res := q.approve(ctx, id, opts)
	q.metrics.RecordReview("approve", res.Success)
	return res
}

func (q *Queue) approve(ctx context.Context, id string, opts ApproveOptions) ReviewResult {
	rec, fail := q.loadPending(ctx, id)
	if fail != nil {
		return *fail
	}
	if q.pub == nil {
		return failed(id, "no knowledge store configured")
	}

	question := rec.Question
	answer := rec.Answer
	action := ActionApproved
	if strings.TrimSpace(opts.Question) != "" && opts.Question != rec.Question {
		question = opts.Question
		action = ActionEdited
	}
	if strings.TrimSpace(opts.Answer) != "" && opts.Answer != rec.Answer {
		answer = opts.Answer
		action = ActionEdited
	}
	category := rec.SuggestedCategory
	if opts.Category != "" {
		category = opts.Category
	}

	article, err := q.pub.StoreArticle(ctx, knowledge.Article{
		AppID:                 rec.AppID,
		Title:                 question,
		Question:              question,
		Answer:                answer,
		Category:              category,
		Tags:                  rec.Tags,
		TrustScore:            rec.Confidence,
		Source:                knowledge.SourceFAQ,
		SourceID:              rec.ID,
		SourceConversationIDs: rec.SourceConversationIDs,
	})
	if err != nil {
		q.log.Warn().Err(err).Str("candidate_id", id).Msg("publishing article failed")
		return failed(id, fmt.Sprintf("publishing article: %v", err))
	}

	reviewed := q.now().UTC()
	rec.Question = question
	rec.Answer = answer
	rec.SuggestedCategory = category
	rec.Status = faq.StatusApproved
	rec.ReviewedAt = &reviewed
	rec.ReviewedBy = opts.ReviewedBy
	rec.EditNotes = opts.EditNotes
	if err := q.transition(ctx, rec, faq.StatusApproved); err != nil {
		return ReviewResult{Success: false, CandidateID: id, ArticleID: article.ID, Error: err.Error()}
	}

	q.log.Info().Str("candidate_id", id).Str("article_id", article.ID).Str("action", action).Msg("candidate approved")
	return ReviewResult{Success: true, CandidateID: id, Action: action, ArticleID: article.ID}
}

// RejectCandidate marks a pending candidate rejected. reason is kept as the
// record's edit notes.
func (q *Queue) RejectCandidate(ctx context.Context, id, reason, reviewedBy string) ReviewResult {
	res := q.reject(ctx, id, reason, reviewedBy)
	q.metrics.RecordReview("reject", res.Success)
	return res
}

func (q *Queue) reject(ctx context.Context, id, reason, reviewedBy string) ReviewResult {
	rec, fail := q.loadPending(ctx, id)
	if fail != nil {
		return *fail
	}
	reviewed := q.now().UTC()
	rec.Status = faq.StatusRejected
	rec.ReviewedAt = &reviewed
	rec.ReviewedBy = reviewedBy
	rec.EditNotes = reason
	if err := q.transition(ctx, rec, faq.StatusRejected); err != nil {
		return failed(id, err.Error())
	}
	q.log.Info().Str("candidate_id", id).Str("reason", reason).Msg("candidate rejected")
	return ReviewResult{Success: true, CandidateID: id, Action: ActionRejected}
}

// loadPending returns the record if it exists and is still pending,
// otherwise a failed result.
func (q *Queue) loadPending(ctx context.Context, id string) (*faq.StoredFaqCandidate, *ReviewResult) {
	rec, err := q.GetCandidate(ctx, id)
	if errors.Is(err, ErrNotFound) {
		r := failed(id, "Candidate not found")
		return nil, &r
	}
	if err != nil {
		r := failed(id, err.Error())
		return nil, &r
	}
	if rec.Status != faq.StatusPending {
		r := failed(id, fmt.Sprintf("Candidate already %s", rec.Status))
		return nil, &r
	}
	return rec, nil
}

// transition rewrites the record and moves its id from the pending set to
// the set for status.
func (q *Queue) transition(ctx context.Context, rec *faq.StoredFaqCandidate, status faq.Status) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding candidate %s: %w", rec.ID, err)
	}
	if err := q.store.Set(ctx, CandidateKey(rec.ID), string(data)); err != nil {
		return fmt.Errorf("updating candidate %s: %w", rec.ID, err)
	}
	if err := q.store.SRem(ctx, SetKey(rec.AppID, faq.StatusPending), rec.ID); err != nil {
		return fmt.Errorf("removing %s from pending: %w", rec.ID, err)
	}
	if err := q.store.SAdd(ctx, SetKey(rec.AppID, status), rec.ID); err != nil {
		return fmt.Errorf("indexing %s as %s: %w", rec.ID, status, err)
	}
	return nil
}

// GetPendingCandidates returns up to limit pending candidates, highest
// confidence first with ties broken by cluster size. Records that are
// missing or fail to decode are skipped.
func (q *Queue) GetPendingCandidates(ctx context.Context, appID string, limit int) ([]faq.StoredFaqCandidate, error) {
	return q.ListCandidates(ctx, appID, faq.StatusPending, limit)
}

// ListCandidates returns up to limit candidates in the given status. A
// limit <= 0 returns all of them.
func (q *Queue) ListCandidates(ctx context.Context, appID string, status faq.Status, limit int) ([]faq.StoredFaqCandidate, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	ids, err := q.store.SMembers(ctx, SetKey(appID, status))
	if err != nil {
		return nil, fmt.Errorf("reading %s index: %w", status, err)
	}

	out := make([]faq.StoredFaqCandidate, 0, len(ids))
	for _, id := range ids {
		rec, err := q.GetCandidate(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			q.log.Warn().Err(err).Str("candidate_id", id).Msg("skipping unreadable candidate")
			continue
		}
		out = append(out, *rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].ClusterSize != out[j].ClusterSize {
			return out[i].ClusterSize > out[j].ClusterSize
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetQueueStats returns the index cardinalities for an app.
func (q *Queue) GetQueueStats(ctx context.Context, appID string) (QueueStats, error) {
	var st QueueStats
	for _, s := range allStatuses {
		n, err := q.store.SCard(ctx, SetKey(appID, s))
		if err != nil {
			return QueueStats{}, fmt.Errorf("counting %s: %w", s, err)
		}
		switch s {
		case faq.StatusPending:
			st.Pending = n
		case faq.StatusApproved:
			st.Approved = n
		case faq.StatusRejected:
			st.Rejected = n
		}
		st.Total += n
	}
	return st, nil
}

// ClearQueue deletes the records and indexes for the given statuses, or all
// three when none are given. Returns how many records were removed.
func (q *Queue) ClearQueue(ctx context.Context, appID string, statuses ...faq.Status) (int, error) {
	if len(statuses) == 0 {
		statuses = allStatuses
	}
	removed := 0
	for _, s := range statuses {
		if !s.Valid() {
			return removed, fmt.Errorf("unknown status %q", s)
		}
		key := SetKey(appID, s)
		ids, err := q.store.SMembers(ctx, key)
		if err != nil {
			return removed, fmt.Errorf("reading %s index: %w", s, err)
		}
		keys := make([]string, 0, len(ids)+1)
		for _, id := range ids {
			keys = append(keys, CandidateKey(id))
		}
		keys = append(keys, key)
		if err := q.store.Del(ctx, keys...); err != nil {
			return removed, fmt.Errorf("clearing %s: %w", s, err)
		}
		removed += len(ids)
	}
	q.log.Warn().Str("app_id", appID).Int("removed", removed).Msg("queue cleared")
	return removed, nil
}

func failed(id, msg string) ReviewResult {
	return ReviewResult{Success: false, CandidateID: id, Error: msg}
}
