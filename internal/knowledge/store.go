// Package knowledge is the knowledge-base article store that approved FAQ
// candidates are published to.
//
// Articles live in a single SQLite database with an FTS5 index over title,
// question, and answer so support agents can look them up by keyword.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is where the article store lives unless configured.
const DefaultDBPath = "~/.faqmine/knowledge.db"

// SourceFAQ marks articles published from the review queue.
const SourceFAQ = "faq_candidate"

// ErrArticleNotFound is returned when no article has the requested id.
var ErrArticleNotFound = errors.New("article not found")

// Article is what a publisher submits.
type Article struct {
	AppID                 string   `json:"app_id"`
	Title                 string   `json:"title"`
	Question              string   `json:"question"`
	Answer                string   `json:"answer"`
	Category              string   `json:"category,omitempty"`
	Tags                  []string `json:"tags,omitempty"`
	TrustScore            float64  `json:"trust_score"`
	Source                string   `json:"source"`
	SourceID              string   `json:"source_id,omitempty"`
	SourceConversationIDs []string `json:"source_conversation_ids,omitempty"`
}

// StoredArticle is an article with its assigned id.
type StoredArticle struct {
	Article
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Config configures Open.
type Config struct {
	DBPath string
}

// Store is the SQLite-backed article store.
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS articles (
		rowid_pk     INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		app_id       TEXT NOT NULL DEFAULT '',
		title        TEXT NOT NULL,
		question     TEXT NOT NULL,
		answer       TEXT NOT NULL,
		category     TEXT NOT NULL DEFAULT '',
		tags         TEXT NOT NULL DEFAULT '[]',
		trust_score  REAL NOT NULL DEFAULT 0,
		source       TEXT NOT NULL DEFAULT '',
		source_id    TEXT NOT NULL DEFAULT '',
		source_convs TEXT NOT NULL DEFAULT '[]',
		created_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_app ON articles(app_id, created_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_source ON articles(app_id, source, source_id) WHERE source_id != ''`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS articles_fts USING fts5(
		title,
		question,
		answer,
		content=articles,
		content_rowid=rowid_pk,
		tokenize='porter unicode61'
	)`,
	`CREATE TRIGGER IF NOT EXISTS articles_ai AFTER INSERT ON articles BEGIN
		INSERT INTO articles_fts(rowid, title, question, answer)
		VALUES (new.rowid_pk, new.title, new.question, new.answer);
	END`,
	`CREATE TRIGGER IF NOT EXISTS articles_ad AFTER DELETE ON articles BEGIN
		INSERT INTO articles_fts(articles_fts, rowid, title, question, answer)
		VALUES ('delete', old.rowid_pk, old.title, old.question, old.answer);
	END`,
	`CREATE TRIGGER IF NOT EXISTS articles_au AFTER UPDATE ON articles BEGIN
		INSERT INTO articles_fts(articles_fts, rowid, title, question, answer)
		VALUES ('delete', old.rowid_pk, old.title, old.question, old.answer);
		INSERT INTO articles_fts(rowid, title, question, answer)
		VALUES (new.rowid_pk, new.title, new.question, new.answer);
	END`,
}

// Open opens (creating if needed) the article store. Pass ":memory:" for an
// in-memory store.
func Open(cfg Config) (*Store, error) {
	path := cfg.DBPath
	if path == "" {
		path = expandPath(DefaultDBPath)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating knowledge directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge store: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating knowledge schema: %w", err)
		}
	}
	return &Store{db: db, now: time.Now, newID: uuid.NewString}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreArticle inserts a new article and returns it with its id. An article
// with a SourceID replaces the one already published for the same app, source,
// and source id, keeping its id and creation time.
func (s *Store) StoreArticle(ctx context.Context, a Article) (*StoredArticle, error) {
	if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.Answer) == "" {
		return nil, fmt.Errorf("article title and answer are required")
	}
	if a.Question == "" {
		a.Question = a.Title
	}
	tags, err := json.Marshal(nonNil(a.Tags))
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	convs, err := json.Marshal(nonNil(a.SourceConversationIDs))
	if err != nil {
		return nil, fmt.Errorf("encoding source conversations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stored := &StoredArticle{Article: a, ID: s.newID(), CreatedAt: s.now().UTC()}
	if a.SourceID != "" {
		var id string
		var created int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, created_at FROM articles WHERE app_id = ? AND source = ? AND source_id = ?`,
			a.AppID, a.Source, a.SourceID,
		).Scan(&id, &created)
		switch {
		case err == nil:
			stored.ID = id
			stored.CreatedAt = time.UnixMilli(created).UTC()
			_, err = tx.ExecContext(ctx,
				`UPDATE articles SET title = ?, question = ?, answer = ?, category = ?, tags = ?, trust_score = ?, source_convs = ?
				 WHERE id = ?`,
				a.Title, a.Question, a.Answer, a.Category, string(tags), a.TrustScore, string(convs), id,
			)
			if err != nil {
				return nil, fmt.Errorf("updating article %s: %w", id, err)
			}
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("committing article: %w", err)
			}
			return stored, nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("looking up article for %s: %w", a.SourceID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO articles (id, app_id, title, question, answer, category, tags, trust_score, source, source_id, source_convs, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, a.AppID, a.Title, a.Question, a.Answer, a.Category, string(tags), a.TrustScore,
		a.Source, a.SourceID, string(convs), stored.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting article: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing article: %w", err)
	}
	return stored, nil
}

const articleColumns = `a.id, a.app_id, a.title, a.question, a.answer, a.category, a.tags, a.trust_score, a.source, a.source_id, a.source_convs, a.created_at`

// GetArticle returns an article by id.
func (s *Store) GetArticle(ctx context.Context, id string) (*StoredArticle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles a WHERE a.id = ?`, id)
	art, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrArticleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting article %s: %w", id, err)
	}
	return art, nil
}

// ListArticles returns an app's articles, newest first. An empty appID lists
// every app.
func (s *Store) ListArticles(ctx context.Context, appID string, limit int) ([]*StoredArticle, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + articleColumns + ` FROM articles a`
	args := []interface{}{}
	if appID != "" {
		query += ` WHERE a.app_id = ?`
		args = append(args, appID)
	}
	query += ` ORDER BY a.created_at DESC, a.rowid_pk DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Search runs a keyword search over title, question, and answer. Every term
// must match.
func (s *Store) Search(ctx context.Context, appID, query string, limit int) ([]*StoredArticle, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	sqlQuery := `SELECT ` + articleColumns + `
		FROM articles_fts
		JOIN articles a ON articles_fts.rowid = a.rowid_pk
		WHERE articles_fts MATCH ?`
	args := []interface{}{match}
	if appID != "" {
		sqlQuery += ` AND a.app_id = ?`
		args = append(args, appID)
	}
	sqlQuery += ` ORDER BY bm25(articles_fts) LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("FTS search: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// ftsQuery quotes each word so user punctuation can't break FTS5 syntax.
func ftsQuery(q string) string {
	var terms []string
	for _, w := range strings.Fields(q) {
		w = strings.Trim(w, `"'.,;:!?()[]{}`)
		if w == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row scanner) (*StoredArticle, error) {
	var a StoredArticle
	var tags, convs string
	var created int64
	if err := row.Scan(&a.ID, &a.AppID, &a.Title, &a.Question, &a.Answer, &a.Category, &tags,
		&a.TrustScore, &a.Source, &a.SourceID, &convs, &created); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(tags), &a.Tags)
	_ = json.Unmarshal([]byte(convs), &a.SourceConversationIDs)
	a.CreatedAt = time.UnixMilli(created).UTC()
	return &a, nil
}

func collect(rows *sql.Rows) ([]*StoredArticle, error) {
	var out []*StoredArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating articles: %w", err)
	}
	return out, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
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
