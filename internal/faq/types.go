// Package faq defines the shared data model for the FAQ mining pipeline:
// conversations and messages read from a data source, the question/answer
// pairs mined from them, the clusters built over those pairs, and the
// candidates that move through review.
package faq

import (
	"math"
	"time"
)

// Message is a single message inside a support conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Inbound        bool      `json:"inbound"`
	AuthorEmail    string    `json:"author_email,omitempty"`
	AuthorID       string    `json:"author_id,omitempty"`
	BodyHTML       string    `json:"body_html,omitempty"`
	Text           string    `json:"text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is the header row a data source returns for a conversation.
// Messages are fetched separately.
type Conversation struct {
	ID         string    `json:"id"`
	AppID      string    `json:"app_id"`
	InboxID    string    `json:"inbox_id,omitempty"`
	Subject    string    `json:"subject"`
	Status     string    `json:"status"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ResolvedConversation is a mined question/answer pair. It is never mutated
// after the miner produces it.
type ResolvedConversation struct {
	ConversationID  string    `json:"conversation_id"`
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	Subject         string    `json:"subject"`
	ResolvedAt      time.Time `json:"resolved_at"`
	AppID           string    `json:"app_id"`
	WasUnchanged    bool      `json:"was_unchanged"`
	DraftSimilarity *float64  `json:"draft_similarity,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	MessageCount    int       `json:"message_count"`
}

// ConversationCluster groups semantically similar conversations.
type ConversationCluster struct {
	ID            string                 `json:"id"`
	Label         string                 `json:"label,omitempty"`
	CentroidText  string                 `json:"centroid_text"`
	Conversations []ResolvedConversation `json:"conversations"`
	Cohesion      float64                `json:"cohesion"`
	UnchangedRate float64                `json:"unchanged_rate"`
	MostRecent    time.Time              `json:"most_recent"`
	Oldest        time.Time              `json:"oldest"`
	Tier          int                    `json:"tier,omitempty"`
}

// Size is the number of member conversations.
func (c ConversationCluster) Size() int {
	return len(c.Conversations)
}

// Status is the review state of a candidate.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// FaqCandidate is a proposed knowledge-base article awaiting review.
type FaqCandidate struct {
	ID                    string   `json:"id"`
	Question              string   `json:"question"`
	Answer                string   `json:"answer"`
	ClusterID             string   `json:"cluster_id"`
	ClusterSize           int      `json:"cluster_size"`
	UnchangedRate         float64  `json:"unchanged_rate"`
	Confidence            float64  `json:"confidence"`
	Tags                  []string `json:"tags"`
	SubjectPatterns       []string `json:"subject_patterns"`
	SourceConversationIDs []string `json:"source_conversation_ids"`
	SuggestedCategory     string   `json:"suggested_category,omitempty"`
	Status                Status   `json:"status"`
}

// ScoreFactors holds the individual confidence components, each in [0,1].
type ScoreFactors struct {
	ClusterSize     float64 `json:"cluster_size"`
	ThreadLength    float64 `json:"thread_length"`
	GoldenMatch     float64 `json:"golden_match"`
	ResponseQuality float64 `json:"response_quality"`
}

// Score is the weighted confidence of an extracted candidate.
type Score struct {
	ConfidenceScore float64      `json:"confidence_score"`
	Factors         ScoreFactors `json:"factors"`
}

// GoldenMatch records which golden response an answer matched.
type GoldenMatch struct {
	ResponseID   string  `json:"response_id"`
	Template     string  `json:"template"`
	QualityScore float64 `json:"quality_score"`
	Similarity   float64 `json:"similarity"`
}

// ExtractedCandidate is the scored variant produced by the extraction path.
type ExtractedCandidate struct {
	FaqCandidate
	Score               Score        `json:"score"`
	GoldenResponseMatch *GoldenMatch `json:"golden_response_match,omitempty"`
	AlternatePhrasings  []string     `json:"alternate_phrasings"`
	SourceConversations []string     `json:"source_conversations"`
}

// StoredFaqCandidate is a candidate as persisted in the review queue.
type StoredFaqCandidate struct {
	FaqCandidate
	AppID      string     `json:"app_id"`
	StoredAt   time.Time  `json:"stored_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	EditNotes  string     `json:"edit_notes,omitempty"`
}

// GoldenResponse is a curated reference answer used for scoring.
type GoldenResponse struct {
	ID                  string   `json:"id"`
	Text                string   `json:"text,omitempty"`
	Template            string   `json:"template"`
	QualityScore        float64  `json:"quality_score"`
	Topic               string   `json:"topic,omitempty"`
	ReuseCount          int      `json:"reuse_count,omitempty"`
	AvgThreadLength     float64  `json:"avg_thread_length,omitempty"`
	SourceConversations []string `json:"source_conversations,omitempty"`
	AssociatedTags      []string `json:"associated_tags,omitempty"`
}

// Clamp01 bounds v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
