package tools

import (
	"context"

	"github.com/nextlevelbuilder/gocrawl/internal/crawler"
	"github.com/nextlevelbuilder/gocrawl/internal/ghost"
)

// CrawlTool exposes the orchestrator to the agent: full crawl with the
// anti-bot escalation pipeline.
type CrawlTool struct {
	orchestrator *crawler.Orchestrator
	ghostEnabled bool
	autoTrigger  bool
}

func NewCrawlTool(orchestrator *crawler.Orchestrator, ghostEnabled, autoTrigger bool) *CrawlTool {
	return &CrawlTool{orchestrator: orchestrator, ghostEnabled: ghostEnabled, autoTrigger: autoTrigger}
}

func (t *CrawlTool) Name() string { return "crawl" }

func (t *CrawlTool) Description() string {
	return "Crawl a URL through the full pipeline (precheck, browser, challenge solving, ghost fallback) and return markdown content with quality metadata."
}

func (t *CrawlTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to crawl.",
			},
			"wait_until": map[string]any{
				"type":        "string",
				"description": `Wait strategy: "domcontentloaded" (default), "networkidle", or a CSS selector.`,
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Navigation timeout in seconds.",
				"minimum":     1.0,
			},
		},
		"required": []any{"url"},
	}
}

func (t *CrawlTool) Execute(ctx context.Context, args map[string]any) *Result {
	url, _ := args["url"].(string)
	if url == "" {
		return ErrorResult("url is required")
	}

	opts := crawler.Options{
		GhostEnabled:     t.ghostEnabled,
		GhostAutoTrigger: t.autoTrigger,
	}
	if wu, ok := args["wait_until"].(string); ok {
		opts.WaitUntil = wu
	}
	if timeout, ok := args["timeout"].(float64); ok && timeout >= 1 {
		opts.TimeoutSec = int(timeout)
	}

	result := t.orchestrator.Crawl(ctx, url, opts)
	if !result.Success {
		if result.Error != "" {
			return ErrorResult("crawl failed: %s", result.Error)
		}
		return ErrorResult("crawl blocked (%s): %s", result.ContentQuality, result.BlockReason)
	}
	// Quarantined content is withheld from the conversation entirely.
	if result.Quarantined {
		return ErrorResult("content quarantined: hidden instruction text detected on %s", url)
	}
	return DataResult(map[string]any{
		"url":             result.URL,
		"final_url":       result.FinalURL,
		"title":           result.Title,
		"markdown":        result.Markdown,
		"status_code":     result.StatusCode,
		"content_quality": result.ContentQuality,
		"render_mode":     result.RenderMode,
	})
}

// MarkdownTool is the markdown-only variant of crawl.
type MarkdownTool struct {
	orchestrator *crawler.Orchestrator
}

func NewMarkdownTool(orchestrator *crawler.Orchestrator) *MarkdownTool {
	return &MarkdownTool{orchestrator: orchestrator}
}

func (t *MarkdownTool) Name() string { return "markdown" }

func (t *MarkdownTool) Description() string {
	return "Crawl a URL and return only its markdown content."
}

func (t *MarkdownTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to crawl.",
			},
		},
		"required": []any{"url"},
	}
}

func (t *MarkdownTool) Execute(ctx context.Context, args map[string]any) *Result {
	url, _ := args["url"].(string)
	if url == "" {
		return ErrorResult("url is required")
	}
	md, err := t.orchestrator.MarkdownOnly(ctx, url, crawler.Options{})
	if err != nil {
		return ErrorResult("%v", err)
	}
	return DataResult(md)
}

// GhostTool runs the vision pipeline directly, bypassing DOM extraction.
type GhostTool struct {
	runner *ghost.Runner
	vision ghost.VisionProvider
}

func NewGhostTool(runner *ghost.Runner, vision ghost.VisionProvider) *GhostTool {
	return &GhostTool{runner: runner, vision: vision}
}

func (t *GhostTool) Name() string { return "ghost" }

func (t *GhostTool) Description() string {
	return "Screenshot a URL and extract its text with a vision model. Use when DOM-based crawling is blocked by anti-bot protection."
}

func (t *GhostTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "HTTP or HTTPS URL to extract.",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "Optional override for the extraction prompt.",
			},
		},
		"required": []any{"url"},
	}
}

func (t *GhostTool) Execute(ctx context.Context, args map[string]any) *Result {
	url, _ := args["url"].(string)
	if url == "" {
		return ErrorResult("url is required")
	}
	prompt, _ := args["prompt"].(string)

	result := t.runner.Run(ctx, url, t.vision, prompt, nil)
	if !result.Success {
		return ErrorResult("ghost extraction failed: %s", result.Error)
	}
	return DataResult(map[string]any{
		"url":             result.URL,
		"content":         result.Content,
		"render_mode":     result.RenderMode,
		"provider":        result.Provider,
		"blocked_content": result.BlockedContent,
	})
}
