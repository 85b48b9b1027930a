package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/nextlevelbuilder/gocrawl/internal/crawler"
)

type crawlRequest struct {
	URL               string   `json:"url,omitempty"`
	URLs              []string `json:"urls,omitempty"`
	SessionID         string   `json:"session_id,omitempty"`
	WaitUntil         string   `json:"wait_until,omitempty"`
	WaitAfterLoadMS   int      `json:"wait_after_load_ms,omitempty"`
	JavaScriptPayload string   `json:"javascript_payload,omitempty"`
	Screenshot        bool     `json:"screenshot,omitempty"`
	Timeout           int      `json:"timeout,omitempty"`
	MaxConcurrent     int      `json:"max_concurrent,omitempty"`
	SkipCache         bool     `json:"skip_cache,omitempty"`
}

func (req *crawlRequest) options(s *Server) crawler.Options {
	return crawler.Options{
		SessionID:         req.SessionID,
		WaitUntil:         req.WaitUntil,
		WaitAfterLoadMS:   req.WaitAfterLoadMS,
		JavaScriptPayload: req.JavaScriptPayload,
		Screenshot:        req.Screenshot,
		TimeoutSec:        req.Timeout,
		SkipCache:         req.SkipCache,
		GhostEnabled:      s.cfg.Ghost.Enabled,
		GhostAutoTrigger:  s.cfg.Ghost.AutoTrigger,
	}
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required", "")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	result := s.orchestrator.Crawl(ctx, req.URL, req.options(s))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMarkdown(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required", "")
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	md, err := s.orchestrator.MarkdownOnly(ctx, req.URL, req.options(s))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"url":     req.URL,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"url":      req.URL,
		"markdown": md,
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body", err.Error())
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required", "")
		return
	}

	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 || maxConcurrent > s.cfg.Crawl.MaxConcurrentCrawls {
		maxConcurrent = s.cfg.Crawl.MaxConcurrentCrawls
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	summary := s.orchestrator.BatchCrawl(ctx, req.URLs, maxConcurrent, req.options(s))
	writeJSON(w, http.StatusOK, summary)
}
