// Package source defines the read contract the miner needs from a
// conversation store, and a SQLite-backed local cache implementing it.
package source

import (
	"context"
	"time"

	"github.com/hurttlocker/faqmine/internal/faq"
)

// Query selects conversations to mine.
type Query struct {
	AppID string
	Since *time.Time
	Limit int
}

// DataSource is the read side of a conversation store.
type DataSource interface {
	GetConversations(ctx context.Context, q Query) ([]faq.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]faq.Message, error)
}

// Stats summarizes what a data source holds.
type Stats struct {
	TotalConversations int64     `json:"total_conversations"`
	TotalMessages      int64     `json:"total_messages"`
	InboxCount         int64     `json:"inbox_count"`
	Earliest           time.Time `json:"earliest,omitempty"`
	Latest             time.Time `json:"latest,omitempty"`
}

// StatsProvider is implemented by data sources that can report totals.
type StatsProvider interface {
	Stats(ctx context.Context) (*Stats, error)
}

// AgentAction is a recorded action of the automated support agent, e.g. a
// draft it sent and whether a human changed it first.
type AgentAction struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	Type            string    `json:"type"`
	Outcome         string    `json:"outcome"`
	DraftSimilarity *float64  `json:"draft_similarity,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Known action outcomes.
const (
	OutcomeUnchanged = "unchanged"
	OutcomeEdited    = "edited"
	OutcomeRejected  = "rejected"
)

// ActionLog returns the recorded agent actions for a conversation.
type ActionLog interface {
	ActionsForConversation(ctx context.Context, conversationID string) ([]AgentAction, error)
}
