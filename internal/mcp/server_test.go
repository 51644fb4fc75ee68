package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/knowledge"
	"github.com/hurttlocker/faqmine/internal/logging"
	"github.com/hurttlocker/faqmine/internal/queue"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const testApp = "app_1"

type testEnv struct {
	queue *queue.Queue
	kb    *knowledge.Store
	srv   *server.MCPServer
}

// helper: a queue on miniredis with two pending candidates, publishing to an
// in-memory knowledge store
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store, err := queue.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("creating redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	kb, err := knowledge.Open(knowledge.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("opening knowledge store: %v", err)
	}
	t.Cleanup(func() { kb.Close() })

	q := queue.New(store, kb, logging.Nop(), nil)
	cands := []faq.FaqCandidate{
		{
			ID: "cand-transfer", Question: "How do I transfer my license?",
			Answer:     "Reply with both email addresses and we will move the license for you.",
			Confidence: 0.82, ClusterSize: 12, Tags: []string{"transfer"},
		},
		{
			ID: "cand-refund", Question: "Can I get a refund?",
			Answer:     "Yes, within 30 days of purchase. Reply to this email and we'll process it.",
			Confidence: 0.64, ClusterSize: 7, Tags: []string{"refund"},
		},
	}
	if _, err := q.SaveCandidatesToQueue(context.Background(), cands, testApp); err != nil {
		t.Fatalf("seeding queue: %v", err)
	}

	srv := NewServer(ServerConfig{Queue: q, Knowledge: kb, AppID: testApp, Version: "test", Reviewer: "assistant"})
	return &testEnv{queue: q, kb: kb, srv: srv}
}

func TestNewServer(t *testing.T) {
	env := setupTestEnv(t)
	if env.srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

// callTool invokes an MCP tool through the JSON-RPC handler.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return callResult
}

func callResource(t *testing.T, srv *server.MCPServer, uri string) string {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "resources/read",
		"params": map[string]interface{}{
			"uri": uri,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var resp struct {
		Result struct {
			Contents []struct {
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Result.Contents) == 0 {
		t.Fatalf("no resource contents for %s", uri)
	}
	return resp.Result.Contents[0].Text
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func TestPendingTool(t *testing.T) {
	env := setupTestEnv(t)

	result := callTool(t, env.srv, "faq_pending", map[string]interface{}{"limit": float64(1)})
	if result.IsError {
		t.Fatalf("unexpected error: %s", getTextContent(t, result))
	}

	var out struct {
		AppID      string `json:"app_id"`
		Count      int    `json:"count"`
		Candidates []struct {
			ID         string  `json:"id"`
			Confidence float64 `json:"confidence"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &out); err != nil {
		t.Fatalf("parsing pending: %v", err)
	}
	if out.AppID != testApp || out.Count != 1 || out.Candidates[0].ID != "cand-transfer" {
		t.Fatalf("unexpected pending output: %+v", out)
	}
}

func TestPendingToolRequiresApp(t *testing.T) {
	env := setupTestEnv(t)
	srv := NewServer(ServerConfig{Queue: env.queue})

	result := callTool(t, srv, "faq_pending", map[string]interface{}{})
	if !result.IsError {
		t.Fatal("expected error without app id")
	}

	result = callTool(t, srv, "faq_pending", map[string]interface{}{"app_id": testApp})
	if result.IsError {
		t.Fatalf("explicit app id should work: %s", getTextContent(t, result))
	}
}

func TestStatsTool(t *testing.T) {
	env := setupTestEnv(t)

	result := callTool(t, env.srv, "faq_stats", map[string]interface{}{})
	var stats queue.QueueStats
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &stats); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}
	if stats.Pending != 2 || stats.Total != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestApproveTool(t *testing.T) {
	env := setupTestEnv(t)

	result := callTool(t, env.srv, "faq_approve", map[string]interface{}{
		"id":       "cand-transfer",
		"category": "Accounts",
	})
	if result.IsError {
		t.Fatalf("approve failed: %s", getTextContent(t, result))
	}
	var res queue.ReviewResult
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &res); err != nil {
		t.Fatalf("parsing review result: %v", err)
	}
	if !res.Success || res.Action != queue.ActionApproved || res.ArticleID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	rec, err := env.queue.GetCandidate(context.Background(), "cand-transfer")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if rec.Status != faq.StatusApproved || rec.ReviewedBy != "assistant" {
		t.Fatalf("candidate not approved by default reviewer: %+v", rec)
	}

	// Approved articles are searchable.
	result = callTool(t, env.srv, "faq_search", map[string]interface{}{"query": "transfer license"})
	if text := getTextContent(t, result); !strings.Contains(text, res.ArticleID) {
		t.Fatalf("search did not find published article: %s", text)
	}
}

func TestApproveToolMissingCandidate(t *testing.T) {
	env := setupTestEnv(t)

	result := callTool(t, env.srv, "faq_approve", map[string]interface{}{"id": "missing-id"})
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if text := getTextContent(t, result); !strings.Contains(text, "Candidate not found") {
		t.Fatalf("unexpected error text: %s", text)
	}

	result = callTool(t, env.srv, "faq_approve", map[string]interface{}{})
	if !result.IsError {
		t.Fatal("expected error without id")
	}
}

func TestConcurrentApprovesPublishOnce(t *testing.T) {
	env := setupTestEnv(t)

	const callers = 8
	raw := make([][]byte, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, _ := json.Marshal(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      i + 1,
				"method":  "tools/call",
				"params": map[string]interface{}{
					"name":      "faq_approve",
					"arguments": map[string]interface{}{"id": "cand-transfer"},
				},
			})
			raw[i], _ = json.Marshal(env.srv.HandleMessage(context.Background(), msg))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, r := range raw {
		var resp struct {
			Result struct {
				IsError bool `json:"isError"`
			} `json:"result"`
		}
		if err := json.Unmarshal(r, &resp); err != nil {
			t.Fatalf("unmarshal response: %v\nraw: %s", err, string(r))
		}
		if !resp.Result.IsError {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful approve, got %d", succeeded)
	}

	articles, err := env.kb.ListArticles(context.Background(), testApp, 10)
	if err != nil {
		t.Fatalf("ListArticles: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected one published article, got %d", len(articles))
	}
}

func TestRejectTool(t *testing.T) {
	env := setupTestEnv(t)

	result := callTool(t, env.srv, "faq_reject", map[string]interface{}{
		"id":          "cand-refund",
		"reason":      "policy changed",
		"reviewed_by": "sam",
	})
	if result.IsError {
		t.Fatalf("reject failed: %s", getTextContent(t, result))
	}

	rec, err := env.queue.GetCandidate(context.Background(), "cand-refund")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if rec.Status != faq.StatusRejected || rec.EditNotes != "policy changed" || rec.ReviewedBy != "sam" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Terminal: approving afterwards fails.
	result = callTool(t, env.srv, "faq_approve", map[string]interface{}{"id": "cand-refund"})
	if !result.IsError {
		t.Fatal("approving a rejected candidate should fail")
	}
}

func TestQueueResources(t *testing.T) {
	env := setupTestEnv(t)

	text := callResource(t, env.srv, "faqmine://queue/stats")
	var payload struct {
		AppID string           `json:"app_id"`
		Stats queue.QueueStats `json:"stats"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("parsing stats resource: %v", err)
	}
	if payload.AppID != testApp || payload.Stats.Pending != 2 {
		t.Fatalf("unexpected stats resource: %+v", payload)
	}

	text = callResource(t, env.srv, "faqmine://queue/pending")
	if !strings.Contains(text, "cand-transfer") || !strings.Contains(text, "cand-refund") {
		t.Fatalf("pending resource missing candidates: %s", text)
	}
}
