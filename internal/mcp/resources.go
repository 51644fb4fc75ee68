package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hurttlocker/faqmine/internal/queue"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerStatsResource(s *server.MCPServer, q *queue.Queue, appID string) {
	resource := mcp.NewResource(
		"faqmine://queue/stats",
		"Review Queue Statistics",
		mcp.WithResourceDescription("Pending, approved, and rejected candidate counts for the configured app."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := q.GetQueueStats(ctx, appID)
		if err != nil {
			return nil, fmt.Errorf("getting queue stats: %w", err)
		}
		data, _ := json.MarshalIndent(map[string]interface{}{
			"app_id": appID,
			"stats":  stats,
		}, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func registerPendingResource(s *server.MCPServer, q *queue.Queue, appID string) {
	resource := mcp.NewResource(
		"faqmine://queue/pending",
		"Top Pending Candidates",
		mcp.WithResourceDescription("The 20 highest-confidence candidates awaiting review."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		pending, err := q.GetPendingCandidates(ctx, appID, defaultPendingLimit)
		if err != nil {
			return nil, fmt.Errorf("listing pending candidates: %w", err)
		}

		type compact struct {
			ID         string  `json:"id"`
			Question   string  `json:"question"`
			Confidence float64 `json:"confidence"`
		}
		out := make([]compact, 0, len(pending))
		for _, c := range pending {
			out = append(out, compact{ID: c.ID, Question: snippet(c.Question, 200), Confidence: c.Confidence})
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
