package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/citeai/citeai/internal/paper"
	"github.com/citeai/citeai/internal/prefs"
	"github.com/citeai/citeai/internal/readability"
	"github.com/citeai/citeai/internal/sections"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Generator *paper.Generator
	Papers    PaperStore // optional; nil skips history
	Prefs     *prefs.Manager
	Version   string
	Logger    *slog.Logger
}

// NewMCPServer creates an MCP server with all citeai tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := server.NewMCPServer(
		"citeai",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("citeai generates structured academic papers and scores their readability."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("generate_paper",
			mcp.WithDescription("Generate an academic paper on a topic, split into the requested sections and scored for readability."),
			mcp.WithString("topic", mcp.Description("Paper topic"), mcp.Required()),
			mcp.WithNumber("word_limit", mcp.Description("Approximate length in words"), mcp.Required()),
			mcp.WithArray("sections", mcp.Description("Section titles in order"), mcp.Required(), mcp.WithStringItems()),
			mcp.WithString("model", mcp.Description("Optional model id override")),
			mcp.WithString("background", mcp.Description("Optional source material for the prompt")),
		),
		mcpGeneratePaper(deps),
	)

	s.AddTool(
		mcp.NewTool("extract_sections",
			mcp.WithDescription("Split text into sections at the given titles, in the order given."),
			mcp.WithString("content", mcp.Description("Text to split"), mcp.Required()),
			mcp.WithArray("labels", mcp.Description("Section titles"), mcp.Required(), mcp.WithStringItems()),
		),
		mcpExtractSections,
	)

	s.AddTool(
		mcp.NewTool("score_readability",
			mcp.WithDescription("Score text from 0 to 100 by how close its average sentence length is to 17.5 words."),
			mcp.WithString("text", mcp.Description("Text to score"), mcp.Required()),
		),
		mcpScoreReadability,
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Update a local preference: theme (light, dark or system) or model."),
			mcp.WithString("key", mcp.Description("Preference name: theme or model"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set"), mcp.Required()),
		),
		mcpSetPreference(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"prefs://current",
			"Current Preferences",
			mcp.WithResourceDescription("Theme and model preferences as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePrefs(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"papers://recent",
			"Recent Papers",
			mcp.WithResourceDescription("Last 10 generated papers (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpGeneratePaper(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}
		words, err := req.RequireInt("word_limit")
		if err != nil {
			return mcpError("word_limit is required"), nil
		}
		secs, err := req.RequireStringSlice("sections")
		if err != nil {
			return mcpError("sections is required"), nil
		}

		preq := paper.Request{
			Topic:      topic,
			WordLimit:  words,
			Sections:   secs,
			Model:      req.GetString("model", ""),
			Background: req.GetString("background", ""),
		}
		if strings.TrimSpace(preq.Model) == "" && deps.Prefs != nil {
			preq.Model = deps.Prefs.StoredModel()
		}
		switch res := deps.Generator.Generate(ctx, preq).(type) {
		case *paper.Failure:
			return mcpError(res.Message), nil
		case *paper.Success:
			if deps.Papers != nil {
				if _, err := savePaper(deps.Papers, preq, res); err != nil {
					deps.Logger.Warn("paper generated but not saved to history", "error", err)
				}
			}
			b, err := json.Marshal(res)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
			}
			return mcpText(string(b)), nil
		default:
			return mcpError("unexpected result"), nil
		}
	}
}

func mcpExtractSections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcpError("content is required"), nil
	}
	labels, err := req.RequireStringSlice("labels")
	if err != nil {
		return mcpError("labels is required"), nil
	}

	b, err := json.Marshal(sections.Extract(content, labels))
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal sections: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpScoreReadability(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcpError("text is required"), nil
	}

	b, err := json.Marshal(map[string]int{
		"score": readability.Score(text),
		"words": readability.Words(text),
	})
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal score: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := deps.Prefs.Set(key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set preference: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpResourcePrefs(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Prefs.Get())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal preferences: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summaries := []PaperSummary{}
		if deps.Papers != nil {
			papers, err := deps.Papers.RecentPapers(10)
			if err != nil {
				return nil, fmt.Errorf("failed to get recent papers: %w", err)
			}
			for _, p := range papers {
				s := summarize(p)
				s.CreatedAt = s.CreatedAt.UTC().Truncate(time.Second)
				summaries = append(summaries, s)
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal papers: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
