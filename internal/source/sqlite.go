package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hurttlocker/faqmine/internal/faq"

	_ "modernc.org/sqlite"
)

// DefaultCachePath is the default location of the local conversation cache.
const DefaultCachePath = "~/.faqmine/cache.db"

// DefaultResolvedStatuses are the conversation statuses treated as resolved.
var DefaultResolvedStatuses = []string{"archived", "resolved", "closed"}

// SQLiteConfig configures OpenSQLite.
type SQLiteConfig struct {
	DBPath           string
	ResolvedStatuses []string
}

// SQLiteSource is a local cache of helpdesk conversations. It implements
// DataSource, ActionLog, and StatsProvider.
type SQLiteSource struct {
	db       *sql.DB
	dbPath   string
	statuses []string
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id          TEXT PRIMARY KEY,
	app_id      TEXT NOT NULL DEFAULT '',
	inbox_id    TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '[]',
	created_at  INTEGER NOT NULL DEFAULT 0,
	resolved_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_conversations_app_resolved ON conversations(app_id, resolved_at);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	is_inbound      INTEGER NOT NULL DEFAULT 0,
	author_email    TEXT NOT NULL DEFAULT '',
	author_id       TEXT NOT NULL DEFAULT '',
	body_html       TEXT NOT NULL DEFAULT '',
	body_text       TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS agent_actions (
	id               TEXT PRIMARY KEY,
	conversation_id  TEXT NOT NULL,
	action_type      TEXT NOT NULL DEFAULT '',
	outcome          TEXT NOT NULL DEFAULT '',
	draft_similarity REAL,
	created_at       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_agent_actions_conversation ON agent_actions(conversation_id, created_at);
`

// OpenSQLite opens (creating if needed) the cache database.
// Pass ":memory:" for an in-memory cache.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteSource, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultCachePath)
	}
	if len(cfg.ResolvedStatuses) == 0 {
		cfg.ResolvedStatuses = DefaultResolvedStatuses
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	if cfg.DBPath == ":memory:" {
		// Each new connection to :memory: is a fresh database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	statuses := make([]string, 0, len(cfg.ResolvedStatuses))
	for _, st := range cfg.ResolvedStatuses {
		statuses = append(statuses, strings.ToLower(strings.TrimSpace(st)))
	}

	return &SQLiteSource{db: db, dbPath: cfg.DBPath, statuses: statuses}, nil
}

// Close closes the database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// UpsertConversation inserts or replaces a conversation header.
func (s *SQLiteSource) UpsertConversation(ctx context.Context, c faq.Conversation) error {
	if c.ID == "" {
		return fmt.Errorf("conversation id cannot be empty")
	}
	tags, err := json.Marshal(nonNilStrings(c.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, app_id, inbox_id, subject, status, tags, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			app_id = excluded.app_id, inbox_id = excluded.inbox_id, subject = excluded.subject,
			status = excluded.status, tags = excluded.tags, created_at = excluded.created_at,
			resolved_at = excluded.resolved_at`,
		c.ID, c.AppID, c.InboxID, c.Subject, strings.ToLower(c.Status), string(tags),
		toMillis(c.CreatedAt), toMillis(c.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation %s: %w", c.ID, err)
	}
	return nil
}

// AddMessage inserts or replaces a message.
func (s *SQLiteSource) AddMessage(ctx context.Context, m faq.Message) error {
	if m.ID == "" || m.ConversationID == "" {
		return fmt.Errorf("message id and conversation id are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages (id, conversation_id, is_inbound, author_email, author_id, body_html, body_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, boolToInt(m.Inbound), m.AuthorEmail, m.AuthorID, m.BodyHTML, m.Text, toMillis(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", m.ID, err)
	}
	return nil
}

// AddAction records an agent action.
func (s *SQLiteSource) AddAction(ctx context.Context, a AgentAction) error {
	if a.ID == "" || a.ConversationID == "" {
		return fmt.Errorf("action id and conversation id are required")
	}
	var sim interface{}
	if a.DraftSimilarity != nil {
		sim = *a.DraftSimilarity
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO agent_actions (id, conversation_id, action_type, outcome, draft_similarity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ConversationID, a.Type, a.Outcome, sim, toMillis(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting action %s: %w", a.ID, err)
	}
	return nil
}

// GetConversations returns resolved conversations, most recently resolved
// first.
func (s *SQLiteSource) GetConversations(ctx context.Context, q Query) ([]faq.Conversation, error) {
	query := `SELECT id, app_id, inbox_id, subject, status, tags, created_at, resolved_at
		FROM conversations WHERE status IN (` + placeholders(len(s.statuses)) + `)`
	args := make([]interface{}, 0, len(s.statuses)+3)
	for _, st := range s.statuses {
		args = append(args, st)
	}
	if q.AppID != "" {
		query += ` AND app_id = ?`
		args = append(args, q.AppID)
	}
	if q.Since != nil {
		query += ` AND resolved_at >= ?`
		args = append(args, toMillis(*q.Since))
	}
	query += ` ORDER BY resolved_at DESC, id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []faq.Conversation
	for rows.Next() {
		var c faq.Conversation
		var tags string
		var created, resolved int64
		if err := rows.Scan(&c.ID, &c.AppID, &c.InboxID, &c.Subject, &c.Status, &tags, &created, &resolved); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		c.Tags = decodeTags(tags)
		c.CreatedAt = fromMillis(created)
		c.ResolvedAt = fromMillis(resolved)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// GetMessages returns a conversation's messages in chronological order.
func (s *SQLiteSource) GetMessages(ctx context.Context, conversationID string) ([]faq.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, is_inbound, author_email, author_id, body_html, body_text, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []faq.Message
	for rows.Next() {
		var m faq.Message
		var inbound int
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &inbound, &m.AuthorEmail, &m.AuthorID, &m.BodyHTML, &m.Text, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Inbound = inbound != 0
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}

// ActionsForConversation returns recorded agent actions, oldest first.
func (s *SQLiteSource) ActionsForConversation(ctx context.Context, conversationID string) ([]AgentAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, action_type, outcome, draft_similarity, created_at
		 FROM agent_actions WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying actions for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []AgentAction
	for rows.Next() {
		var a AgentAction
		var sim sql.NullFloat64
		var created int64
		if err := rows.Scan(&a.ID, &a.ConversationID, &a.Type, &a.Outcome, &sim, &created); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		if sim.Valid {
			v := sim.Float64
			a.DraftSimilarity = &v
		}
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actions: %w", err)
	}
	return out, nil
}

// Stats reports cache totals.
func (s *SQLiteSource) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	var earliest, latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT NULLIF(inbox_id, '')), MIN(NULLIF(created_at, 0)), MAX(NULLIF(created_at, 0)) FROM conversations`,
	).Scan(&st.TotalConversations, &st.InboxCount, &earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.TotalMessages); err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	if earliest.Valid {
		st.Earliest = fromMillis(earliest.Int64)
	}
	if latest.Valid {
		st.Latest = fromMillis(latest.Int64)
	}
	return st, nil
}

// ReuseQuery bounds the search for reused outbound responses.
type ReuseQuery struct {
	MinReuse  int // distinct conversations (default 3)
	MinLength int // characters, exclusive (default 50)
	MinThread int // messages per conversation (default 2)
	MaxThread int // messages per conversation (default 10)
	AppID     string
}

// ResponseUsage is one outbound response text and the conversations it was
// sent in.
type ResponseUsage struct {
	Text            string
	ConversationIDs []string
	AvgThreadLength float64
	Tags            []string
}

// ReusedResponses groups outbound message bodies in resolved conversations by
// exact text and returns those sent in at least MinReuse conversations, most
// reused first.
func (s *SQLiteSource) ReusedResponses(ctx context.Context, q ReuseQuery) ([]ResponseUsage, error) {
	if q.MinReuse <= 0 {
		q.MinReuse = 3
	}
	if q.MinLength <= 0 {
		q.MinLength = 50
	}
	if q.MinThread <= 0 {
		q.MinThread = 2
	}
	if q.MaxThread <= 0 {
		q.MaxThread = 10
	}

	query := `
		WITH thread_counts AS (
			SELECT conversation_id, COUNT(*) AS msg_count FROM messages GROUP BY conversation_id
		)
		SELECT m.body_text, c.id, t.msg_count, c.tags
		FROM conversations c
		JOIN messages m ON m.conversation_id = c.id
		JOIN thread_counts t ON t.conversation_id = c.id
		WHERE c.status IN (` + placeholders(len(s.statuses)) + `)
		  AND m.is_inbound = 0
		  AND t.msg_count BETWEEN ? AND ?
		  AND LENGTH(m.body_text) > ?`
	args := make([]interface{}, 0, len(s.statuses)+4)
	for _, st := range s.statuses {
		args = append(args, st)
	}
	args = append(args, q.MinThread, q.MaxThread, q.MinLength)
	if q.AppID != "" {
		query += ` AND c.app_id = ?`
		args = append(args, q.AppID)
	}
	query += ` ORDER BY c.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reused responses: %w", err)
	}
	defer rows.Close()

	type agg struct {
		convs     map[string]int
		order     []string
		threadSum int
		tags      map[string]struct{}
		tagOrder  []string
	}
	groups := map[string]*agg{}
	var textOrder []string

	for rows.Next() {
		var text, convID, tags string
		var msgCount int
		if err := rows.Scan(&text, &convID, &msgCount, &tags); err != nil {
			return nil, fmt.Errorf("scanning reused response: %w", err)
		}
		g, ok := groups[text]
		if !ok {
			g = &agg{convs: map[string]int{}, tags: map[string]struct{}{}}
			groups[text] = g
			textOrder = append(textOrder, text)
		}
		if _, seen := g.convs[convID]; seen {
			continue
		}
		g.convs[convID] = msgCount
		g.order = append(g.order, convID)
		g.threadSum += msgCount
		for _, tag := range decodeTags(tags) {
			if _, seen := g.tags[tag]; !seen {
				g.tags[tag] = struct{}{}
				g.tagOrder = append(g.tagOrder, tag)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reused responses: %w", err)
	}

	out := make([]ResponseUsage, 0)
	for _, text := range textOrder {
		g := groups[text]
		if len(g.order) < q.MinReuse {
			continue
		}
		out = append(out, ResponseUsage{
			Text:            text,
			ConversationIDs: g.order,
			AvgThreadLength: float64(g.threadSum) / float64(len(g.order)),
			Tags:            g.tagOrder,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].ConversationIDs) > len(out[j].ConversationIDs)
	})
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "''"
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func decodeTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
