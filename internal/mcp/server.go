// Package mcp provides a Model Context Protocol server for the FAQ review
// queue.
//
// It exposes the queue (pending candidates, stats, approve, reject) and the
// published knowledge base as MCP tools, and queue statistics as MCP
// resources, so an assistant can drive a review session over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hurttlocker/faqmine/internal/knowledge"
	"github.com/hurttlocker/faqmine/internal/queue"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	defaultPendingLimit = 20
	maxPendingLimit     = 100
	maxSnippet          = 280
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Queue     *queue.Queue
	Knowledge *knowledge.Store // optional, enables faq_search
	AppID     string           // default app when a tool call omits app_id
	Version   string           // version string for MCP server info
	Reviewer  string           // default reviewed_by
}

// NewServer creates a configured MCP server with the review tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"faqmine",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerPendingTool(s, cfg)
	registerStatsTool(s, cfg)
	// Approve and reject share one lock per server. mcp-go dispatches
	// handlers concurrently, and the queue's read-modify-write is not
	// transactional.
	reviewMu := new(sync.Mutex)
	registerApproveTool(s, cfg, reviewMu)
	registerRejectTool(s, cfg, reviewMu)
	if cfg.Knowledge != nil {
		registerSearchTool(s, cfg.Knowledge, cfg.AppID)
	}

	if cfg.AppID != "" {
		registerStatsResource(s, cfg.Queue, cfg.AppID)
		registerPendingResource(s, cfg.Queue, cfg.AppID)
	}

	return s
}

// --- Tools ---

func registerPendingTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("faq_pending",
		mcp.WithDescription("List FAQ candidates awaiting review, highest confidence first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("app_id",
			mcp.Description("App whose queue to read. Defaults to the configured app."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of candidates (default: 20, max: 100)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		appID, errResult := resolveApp(req, cfg.AppID)
		if errResult != nil {
			return errResult, nil
		}

		limit := defaultPendingLimit
		if v, err := req.RequireFloat("limit"); err == nil {
			limit = int(v)
			if limit > maxPendingLimit {
				limit = maxPendingLimit
			}
			if limit <= 0 {
				limit = defaultPendingLimit
			}
		}

		pending, err := cfg.Queue.GetPendingCandidates(ctx, appID, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reading queue: %v", err)), nil
		}

		type pendingItem struct {
			ID                string   `json:"id"`
			Question          string   `json:"question"`
			Answer            string   `json:"answer"`
			Confidence        float64  `json:"confidence"`
			ClusterSize       int      `json:"cluster_size"`
			Tags              []string `json:"tags,omitempty"`
			SuggestedCategory string   `json:"suggested_category,omitempty"`
		}
		items := make([]pendingItem, 0, len(pending))
		for _, c := range pending {
			items = append(items, pendingItem{
				ID:                c.ID,
				Question:          c.Question,
				Answer:            c.Answer,
				Confidence:        c.Confidence,
				ClusterSize:       c.ClusterSize,
				Tags:              c.Tags,
				SuggestedCategory: c.SuggestedCategory,
			})
		}

		data, _ := json.MarshalIndent(map[string]interface{}{
			"app_id":     appID,
			"count":      len(items),
			"candidates": items,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("faq_stats",
		mcp.WithDescription("Count candidates in the review queue by status."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("app_id",
			mcp.Description("App whose queue to count. Defaults to the configured app."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		appID, errResult := resolveApp(req, cfg.AppID)
		if errResult != nil {
			return errResult, nil
		}
		stats, err := cfg.Queue.GetQueueStats(ctx, appID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reading queue stats: %v", err)), nil
		}
		data, _ := json.MarshalIndent(stats, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerApproveTool(s *server.MCPServer, cfg ServerConfig, reviewMu *sync.Mutex) {
	tool := mcp.NewTool("faq_approve",
		mcp.WithDescription("Approve a pending FAQ candidate and publish it to the knowledge base. Question and answer may be edited on the way."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Candidate id"),
		),
		mcp.WithString("question",
			mcp.Description("Replacement question text"),
		),
		mcp.WithString("answer",
			mcp.Description("Replacement answer text"),
		),
		mcp.WithString("category",
			mcp.Description("Knowledge base category"),
		),
		mcp.WithString("edit_notes",
			mcp.Description("Reviewer notes kept on the candidate"),
		),
		mcp.WithString("reviewed_by",
			mcp.Description("Reviewer name"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil || strings.TrimSpace(id) == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		opts := queue.ApproveOptions{
			Question:   optionalString(req, "question"),
			Answer:     optionalString(req, "answer"),
			Category:   optionalString(req, "category"),
			EditNotes:  optionalString(req, "edit_notes"),
			ReviewedBy: optionalString(req, "reviewed_by"),
		}
		if opts.ReviewedBy == "" {
			opts.ReviewedBy = cfg.Reviewer
		}

		reviewMu.Lock()
		res := cfg.Queue.ApproveCandidate(ctx, strings.TrimSpace(id), opts)
		reviewMu.Unlock()

		return reviewResult(res), nil
	})
}

func registerRejectTool(s *server.MCPServer, cfg ServerConfig, reviewMu *sync.Mutex) {
	tool := mcp.NewTool("faq_reject",
		mcp.WithDescription("Reject a pending FAQ candidate. It will not be proposed again."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Candidate id"),
		),
		mcp.WithString("reason",
			mcp.Description("Why the candidate was rejected"),
		),
		mcp.WithString("reviewed_by",
			mcp.Description("Reviewer name"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil || strings.TrimSpace(id) == "" {
			return mcp.NewToolResultError("id is required"), nil
		}
		reviewer := optionalString(req, "reviewed_by")
		if reviewer == "" {
			reviewer = cfg.Reviewer
		}

		reviewMu.Lock()
		res := cfg.Queue.RejectCandidate(ctx, strings.TrimSpace(id), optionalString(req, "reason"), reviewer)
		reviewMu.Unlock()

		return reviewResult(res), nil
	})
}

func registerSearchTool(s *server.MCPServer, kb *knowledge.Store, defaultApp string) {
	tool := mcp.NewTool("faq_search",
		mcp.WithDescription("Keyword search over published knowledge base articles. Use before approving to spot duplicates."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search terms; every term must match"),
		),
		mcp.WithString("app_id",
			mcp.Description("Restrict to one app. Defaults to the configured app."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default: 10, max: 50)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		appID := optionalString(req, "app_id")
		if appID == "" {
			appID = defaultApp
		}
		limit := 10
		if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
			limit = int(v)
			if limit > 50 {
				limit = 50
			}
		}

		articles, err := kb.Search(ctx, appID, query, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}

		type hit struct {
			ID       string  `json:"id"`
			Title    string  `json:"title"`
			Snippet  string  `json:"snippet"`
			Category string  `json:"category,omitempty"`
			Trust    float64 `json:"trust_score"`
		}
		hits := make([]hit, 0, len(articles))
		for _, a := range articles {
			hits = append(hits, hit{
				ID:       a.ID,
				Title:    a.Title,
				Snippet:  snippet(a.Answer, maxSnippet),
				Category: a.Category,
				Trust:    a.TrustScore,
			})
		}
		data, _ := json.MarshalIndent(hits, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Helpers ---

func resolveApp(req mcp.CallToolRequest, fallback string) (string, *mcp.CallToolResult) {
	appID := optionalString(req, "app_id")
	if appID == "" {
		appID = fallback
	}
	if appID == "" {
		return "", mcp.NewToolResultError("app_id is required (no default app configured)")
	}
	return appID, nil
}

func optionalString(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

// reviewResult renders a ReviewResult. Unsuccessful reviews are tool errors
// carrying the same JSON body.
func reviewResult(res queue.ReviewResult) *mcp.CallToolResult {
	data, _ := json.MarshalIndent(res, "", "  ")
	if !res.Success {
		return mcp.NewToolResultError(string(data))
	}
	return mcp.NewToolResultText(string(data))
}

func snippet(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
