package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/citeai/citeai/internal/paper"
	"github.com/citeai/citeai/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, c paper.Completer) (MCPDeps, *storage.Store) {
	t.Helper()
	deps, store := newTestDeps(t, c)
	return MCPDeps{
		Generator: deps.Generator,
		Papers:    store,
		Prefs:     deps.Prefs,
		Version:   "test",
		Logger:    quietLogger,
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_GeneratePaper(t *testing.T) {
	deps, store := newTestMCPDeps(t, &fakeCompleter{})
	handler := mcpGeneratePaper(deps)

	req := makeCallToolRequest("generate_paper", map[string]any{
		"topic":      "Ocean Acidification",
		"word_limit": float64(1200),
		"sections":   []any{"Abstract", "Introduction", "Conclusion"},
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	res, err := paper.DecodeResult([]byte(toolText(t, result)))
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	s, ok := res.(*paper.Success)
	if !ok {
		t.Fatalf("result = %T, want *paper.Success", res)
	}
	if got := s.Sections.Keys(); strings.Join(got, ",") != "abstract,introduction,conclusion" {
		t.Errorf("keys = %v", got)
	}

	papers, err := store.RecentPapers(10)
	if err != nil {
		t.Fatalf("RecentPapers: %v", err)
	}
	if len(papers) != 1 || papers[0].Topic != "Ocean Acidification" {
		t.Errorf("history = %+v", papers)
	}
}

func TestMCPTool_GeneratePaper_Failure(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeCompleter{})
	handler := mcpGeneratePaper(deps)

	req := makeCallToolRequest("generate_paper", map[string]any{
		"topic":      "Ocean Acidification",
		"word_limit": float64(100),
		"sections":   []any{"Abstract", "abstract"},
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for duplicate sections")
	}
	if text := toolText(t, result); !strings.Contains(text, "unique") {
		t.Errorf("message = %q", text)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("generate_paper", map[string]any{"topic": "x"}))
	if !result.IsError {
		t.Error("expected error result when word_limit is missing")
	}
}

func TestMCPTool_ExtractSections(t *testing.T) {
	req := makeCallToolRequest("extract_sections", map[string]any{
		"content": "Introduction\nHello there.\nConclusion\nBye.",
		"labels":  []any{"Introduction", "Conclusion"},
	})

	result, err := mcpExtractSections(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := toolText(t, result); got != `{"introduction":"Hello there.","conclusion":"Bye."}` {
		t.Errorf("sections = %s", got)
	}
}

func TestMCPTool_ScoreReadability(t *testing.T) {
	req := makeCallToolRequest("score_readability", map[string]any{
		"text": "Short text here.",
	})

	result, err := mcpScoreReadability(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]int
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got["score"] != 0 || got["words"] != 3 {
		t.Errorf("got %v, want score 0 and 3 words", got)
	}

	result, _ = mcpScoreReadability(context.Background(), makeCallToolRequest("score_readability", nil))
	if !result.IsError {
		t.Error("expected error result when text is missing")
	}
}

func TestMCPTool_SetPreference(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeCompleter{})
	handler := mcpSetPreference(deps)

	result, err := handler(context.Background(), makeCallToolRequest("set_preference", map[string]any{
		"key":   "theme",
		"value": "dark",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got := deps.Prefs.Get().Theme; got != "dark" {
		t.Errorf("theme = %q, want dark", got)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("set_preference", map[string]any{
		"key":   "theme",
		"value": "purple",
	}))
	if !result.IsError {
		t.Error("expected error result for invalid theme")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("set_preference", map[string]any{
		"key":   "font",
		"value": "serif",
	}))
	if !result.IsError {
		t.Error("expected error result for unknown preference")
	}
}

func TestMCPResource_Prefs(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeCompleter{})
	if err := deps.Prefs.SetModel("openai/gpt-oss-20b:free"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}

	contents, err := mcpResourcePrefs(deps)(context.Background(), makeReadResourceRequest("prefs://current"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.Text != `{"theme":"system","model":"openai/gpt-oss-20b:free"}` {
		t.Errorf("text = %s", tc.Text)
	}
}

func TestMCPResource_RecentPapers(t *testing.T) {
	deps, store := newTestMCPDeps(t, &fakeCompleter{})
	for _, id := range []string{"a", "b"} {
		if err := store.SavePaper(storage.Paper{ID: id, Topic: "t-" + id, WordLimit: 10, Result: "{}"}); err != nil {
			t.Fatalf("SavePaper: %v", err)
		}
	}

	contents, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest("papers://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	var got []PaperSummary
	if err := json.Unmarshal([]byte(tc.Text), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d papers, want 2", len(got))
	}
	if strings.Contains(tc.Text, `"result"`) {
		t.Error("recent papers must not include result bodies")
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &fakeCompleter{})
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
