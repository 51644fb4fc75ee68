package knowledge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndGetArticle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, err := s.StoreArticle(ctx, Article{
		AppID:                 "app",
		Title:                 "How do I transfer my license?",
		Answer:                "Reply with both addresses and we will move it.",
		Category:              "License Transfer",
		Tags:                  []string{"transfer"},
		TrustScore:            0.82,
		Source:                SourceFAQ,
		SourceID:              "cand-1",
		SourceConversationIDs: []string{"c1", "c2"},
	})
	if err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}
	if stored.ID == "" {
		t.Fatal("expected an id")
	}

	got, err := s.GetArticle(ctx, stored.ID)
	if err != nil {
		t.Fatalf("GetArticle: %v", err)
	}
	if got.Question != got.Title {
		t.Fatalf("question should default to title, got %q", got.Question)
	}
	if got.TrustScore != 0.82 || got.SourceID != "cand-1" || len(got.SourceConversationIDs) != 2 || got.Tags[0] != "transfer" {
		t.Fatalf("article not round-tripped: %+v", got)
	}
}

func TestGetArticleNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetArticle(context.Background(), "missing")
	if !errors.Is(err, ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
}

func TestStoreArticleValidation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.StoreArticle(context.Background(), Article{Title: "", Answer: "x"}); err == nil {
		t.Fatal("expected error for empty title")
	}
	if _, err := s.StoreArticle(context.Background(), Article{Title: "x", Answer: "  "}); err == nil {
		t.Fatal("expected error for empty answer")
	}
}

func TestListArticlesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	s.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Minute)
	}

	for n := 0; n < 3; n++ {
		if _, err := s.StoreArticle(ctx, Article{AppID: "app", Title: fmt.Sprintf("t%d", n), Answer: "a"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.StoreArticle(ctx, Article{AppID: "other", Title: "x", Answer: "a"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListArticles(ctx, "app", 2)
	if err != nil {
		t.Fatalf("ListArticles: %v", err)
	}
	if len(got) != 2 || got[0].Title != "t2" || got[1].Title != "t1" {
		t.Fatalf("unexpected listing: %+v", got)
	}
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, a := range []Article{
		{AppID: "app", Title: "Refund policy", Answer: "Refunds are issued within 30 days of purchase."},
		{AppID: "app", Title: "Downloading videos", Answer: "Use the download button on each lesson."},
		{AppID: "other", Title: "Refunds elsewhere", Answer: "Different app refunds."},
	} {
		if _, err := s.StoreArticle(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Search(ctx, "app", "refund?", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Refund policy" {
		t.Fatalf("unexpected results: %+v", got)
	}

	got, err = s.Search(ctx, "", `"lesson" download`, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Downloading videos" {
		t.Fatalf("unexpected results: %+v", got)
	}

	if got, _ := s.Search(ctx, "", "  ", 10); got != nil {
		t.Fatalf("blank query should return nothing, got %+v", got)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb", "knowledge.db")
	s, err := Open(Config{DBPath: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, err := s.StoreArticle(context.Background(), Article{Title: "t", Answer: "a"}); err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}
}

func TestStoreArticleReplacesSameSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := Article{AppID: "app", Title: "Refund policy", Answer: "Refunds within 14 days.", Source: SourceFAQ, SourceID: "cand-1"}

	first, err := s.StoreArticle(ctx, a)
	if err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}
	a.Answer = "Refunds within 30 days."
	second, err := s.StoreArticle(ctx, a)
	if err != nil {
		t.Fatalf("StoreArticle again: %v", err)
	}
	if second.ID != first.ID || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected the same article back, got %s then %s", first.ID, second.ID)
	}

	all, err := s.ListArticles(ctx, "app", 10)
	if err != nil {
		t.Fatalf("ListArticles: %v", err)
	}
	if len(all) != 1 || all[0].Answer != "Refunds within 30 days." {
		t.Fatalf("expected one updated article, got %+v", all)
	}
	if got, _ := s.Search(ctx, "app", "30 days", 10); len(got) != 1 {
		t.Fatalf("search index not updated: %+v", got)
	}
	if got, _ := s.Search(ctx, "app", "14", 10); len(got) != 0 {
		t.Fatalf("stale text still indexed: %+v", got)
	}

	other := a
	other.AppID = "other"
	if o, err := s.StoreArticle(ctx, other); err != nil || o.ID == first.ID {
		t.Fatalf("same source id in another app should be a new article: %v", err)
	}
}
