package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/gocrawl/internal/browser"
	"github.com/nextlevelbuilder/gocrawl/internal/challenge"
	"github.com/nextlevelbuilder/gocrawl/internal/ghost"
	"github.com/nextlevelbuilder/gocrawl/internal/markdown"
	"github.com/nextlevelbuilder/gocrawl/internal/policy"
	"github.com/nextlevelbuilder/gocrawl/internal/precheck"
	"github.com/nextlevelbuilder/gocrawl/internal/store"
)

var tracer = otel.Tracer("gocrawl/crawler")

// budgetSafetyMargin is held back from the caller's total budget so a
// response still makes it out before the deadline.
const budgetSafetyMargin = 5 * time.Second

// Options controls a single crawl.
type Options struct {
	SessionID         string
	WaitUntil         string // "domcontentloaded" (default), "networkidle", or a selector
	WaitAfterLoadMS   int
	JavaScriptPayload string
	Screenshot        bool
	TimeoutSec        int
	GhostEnabled      bool
	GhostAutoTrigger  bool
	SkipCache         bool
}

// Result is the normalized outcome of one crawl.
type Result struct {
	Success         bool             `json:"success"`
	URL             string           `json:"url"`
	FinalURL        string           `json:"final_url,omitempty"`
	HTML            string           `json:"html,omitempty"`
	Markdown        string           `json:"markdown,omitempty"`
	Title           string           `json:"title,omitempty"`
	StatusCode      int              `json:"status_code,omitempty"`
	ContentQuality  string           `json:"content_quality,omitempty"`
	Blocked         bool             `json:"blocked"`
	BlockReason     string           `json:"block_reason,omitempty"`
	CaptchaDetected bool             `json:"captcha_detected"`
	Quarantined     bool             `json:"quarantined,omitempty"`
	RenderMode      string           `json:"render_mode,omitempty"` // "html_only", "browser", "ghost", "ghost_dom"
	TimingsMS       map[string]int64 `json:"timings_ms,omitempty"`
	ScreenshotPaths []string         `json:"screenshot_paths,omitempty"`

	ChallengeDetected bool   `json:"challenge_detected,omitempty"`
	ChallengeResolved bool   `json:"challenge_resolved,omitempty"`
	ChallengeMethod   string `json:"challenge_method,omitempty"`
	ChallengeWaitMS   int64  `json:"challenge_wait_ms,omitempty"`

	Error string `json:"error,omitempty"`
}

// Orchestrator drives the anti-bot escalation pipeline: HTTP precheck →
// browser fetch → challenge resolution → content extraction, with the
// ghost pipeline as the last resort.
type Orchestrator struct {
	pool      *browser.Pool
	factory   browser.Factory
	checker   *precheck.Checker
	solver    *challenge.Solver
	ghost     *ghost.Runner
	converter markdown.Converter
	cookies   *browser.CookieStore
	cache     *store.CrawlCache
	vision    ghost.VisionProvider

	precheckEnabled bool
	defaultTimeout  time.Duration

	mu           sync.Mutex
	activeCrawls int
}

type OrchestratorConfig struct {
	Pool            *browser.Pool
	Factory         browser.Factory
	Checker         *precheck.Checker
	Solver          *challenge.Solver
	Ghost           *ghost.Runner
	Converter       markdown.Converter
	Cookies         *browser.CookieStore
	Cache           *store.CrawlCache
	Vision          ghost.VisionProvider
	PrecheckEnabled bool
	DefaultTimeout  time.Duration
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{
		pool:            cfg.Pool,
		factory:         cfg.Factory,
		checker:         cfg.Checker,
		solver:          cfg.Solver,
		ghost:           cfg.Ghost,
		converter:       cfg.Converter,
		cookies:         cfg.Cookies,
		cache:           cfg.Cache,
		vision:          cfg.Vision,
		precheckEnabled: cfg.PrecheckEnabled,
		defaultTimeout:  timeout,
	}
}

// ActiveCrawls reports in-flight crawls for mesh load snapshots.
func (o *Orchestrator) ActiveCrawls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeCrawls
}

func (o *Orchestrator) trackCrawl() func() {
	o.mu.Lock()
	o.activeCrawls++
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		o.activeCrawls--
		o.mu.Unlock()
	}
}

// Crawl produces a normalized Result through the four escalating stages.
func (o *Orchestrator) Crawl(ctx context.Context, rawURL string, opts Options) *Result {
	defer o.trackCrawl()()

	ctx, span := tracer.Start(ctx, "crawl")
	span.SetAttributes(attribute.String("url", rawURL))
	defer span.End()

	start := time.Now()
	result := &Result{URL: rawURL, TimingsMS: map[string]int64{}}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		result.Error = fmt.Sprintf("invalid URL: %s", rawURL)
		return result
	}

	if !opts.SkipCache && o.cache != nil {
		if cached, ok := o.cache.Get(rawURL); ok {
			slog.Debug("crawl cache hit", "url", rawURL)
			return &Result{
				Success:        true,
				URL:            cached.URL,
				FinalURL:       cached.FinalURL,
				Title:          cached.Title,
				Markdown:       cached.Markdown,
				StatusCode:     cached.StatusCode,
				ContentQuality: cached.ContentQuality,
				RenderMode:     cached.RenderMode,
				TimingsMS:      map[string]int64{"cache_ms": time.Since(start).Milliseconds()},
			}
		}
	}

	// Stage 1: HTTP precheck.
	if o.precheckEnabled && o.checker != nil {
		stageStart := time.Now()
		pre := o.checker.Check(ctx, rawURL)
		result.TimingsMS["precheck_ms"] = time.Since(stageStart).Milliseconds()
		if pre.UsableContent != "" {
			result.StatusCode = pre.StatusCode
			result.HTML = pre.UsableContent
			result.RenderMode = "html_only"
			o.extract(ctx, result, nil, opts)
			result.TimingsMS["total_ms"] = time.Since(start).Milliseconds()
			o.cachePut(result)
			return result
		}
	}

	if !o.budgetRemains(ctx) {
		result.Error = "crawl budget exhausted before browser fetch"
		return result
	}

	// Stage 2: browser fetch.
	stageStart := time.Now()
	slot, session, release, err := o.acquireSession(ctx, opts.SessionID)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer release()

	if o.cookies != nil {
		if n, err := o.cookies.LoadIntoSession(session, parsed.Hostname()); err == nil && n > 0 {
			slog.Debug("loaded clearance cookies", "domain", parsed.Hostname(), "count", n)
		}
	}

	timeout := o.defaultTimeout
	if opts.TimeoutSec > 0 {
		timeout = time.Duration(opts.TimeoutSec) * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	nav, err := session.Navigate(navCtx, rawURL, opts.WaitUntil,
		time.Duration(opts.WaitAfterLoadMS)*time.Millisecond, opts.JavaScriptPayload)
	cancel()
	result.TimingsMS["browser_ms"] = time.Since(stageStart).Milliseconds()
	if err != nil {
		result.Error = fmt.Sprintf("browser fetch failed: %v", err)
		return result
	}
	if slot != nil {
		slot.NavigatedURL = rawURL
	}
	result.StatusCode = nav.StatusCode
	result.FinalURL = nav.FinalURL
	result.RenderMode = "browser"

	// Stage 3: challenge resolution.
	if o.solver != nil && o.budgetRemains(ctx) {
		stageStart = time.Now()
		challengeResult := o.solver.Resolve(ctx, session, rawURL)
		result.TimingsMS["challenge_ms"] = time.Since(stageStart).Milliseconds()
		result.ChallengeDetected = challengeResult.ChallengeType != challenge.TypeNone
		result.ChallengeResolved = challengeResult.Resolved
		result.ChallengeMethod = challengeResult.Method
		result.ChallengeWaitMS = challengeResult.WaitTimeMS

		if result.ChallengeDetected && challengeResult.Resolved {
			if _, err := session.Navigate(ctx, rawURL, "domcontentloaded", 0, ""); err != nil {
				slog.Warn("post-challenge reload failed", "url", rawURL, "error", err)
			}
			if o.cookies != nil {
				if err := o.cookies.SaveFromSession(session, parsed.Hostname()); err != nil {
					slog.Debug("cookie save failed", "domain", parsed.Hostname(), "error", err)
				}
			}
		}
	}

	// Stage 4: content extraction.
	if html, err := session.HTML(); err == nil {
		result.HTML = html
	}
	if title, err := session.Title(); err == nil {
		result.Title = title
	}
	visible, _ := session.VisibleText()

	o.extract(ctx, result, &visible, opts)

	result.TimingsMS["total_ms"] = time.Since(start).Milliseconds()
	o.cachePut(result)
	return result
}

// extract converts HTML to markdown, classifies quality, applies the
// hidden-text quarantine, and escalates to ghost when warranted.
func (o *Orchestrator) extract(ctx context.Context, result *Result, visibleText *string, opts Options) {
	mdStart := time.Now()
	if result.HTML != "" && o.converter != nil {
		if md, err := o.converter.Convert(result.HTML, result.URL); err == nil {
			result.Markdown = md
		} else {
			slog.Warn("markdown conversion failed", "url", result.URL, "error", err)
		}
	}
	result.TimingsMS["markdown_ms"] = time.Since(mdStart).Milliseconds()

	stripped := StripNoise(result.Markdown)
	detection := ghost.DetectBlock(ghost.DetectInput{
		HTML:          result.HTML,
		Markdown:      result.Markdown,
		StatusCode:    result.StatusCode,
		BodyCharCount: len(stripped),
		BodyWordCount: len(strings.Fields(stripped)),
	})

	assessment := Assess(AssessInput{
		Content:    result.Markdown,
		HTML:       result.HTML,
		StatusCode: result.StatusCode,
		Blocked:    detection.Blocked && assessmentBlocked(result, detection),
	})
	result.ContentQuality = string(assessment.Quality)
	result.Blocked = assessment.Quality == QualityBlocked
	result.CaptchaDetected = detection.CaptchaDetected
	if result.Blocked {
		result.BlockReason = firstNonEmpty(detection.Reason, assessment.BlockedReason)
	}

	// Hidden-text guard: instruction phrases in DOM text that the page
	// never renders get the result quarantined. Content is kept but must
	// never be fed back into an LLM.
	if visibleText != nil && result.Markdown != "" {
		analysis := policy.AnalyzeHiddenInjection(result.Markdown, *visibleText)
		if analysis.Quarantined {
			slog.Warn("security.hidden_injection_quarantined", "url", result.URL, "reason", analysis.QuarantineReason)
			result.Quarantined = true
		}
	}

	if assessment.Quality == QualitySufficient {
		result.Success = true
		return
	}

	// Escalate to ghost only for blocked pages, never thin-but-legitimate
	// ones.
	if result.Blocked && o.ghost != nil &&
		ghost.ShouldTrigger(detection, opts.GhostEnabled, opts.GhostAutoTrigger) &&
		o.budgetRemains(ctx) {
		ghostResult := o.ghost.Run(ctx, result.URL, o.vision, "", &detection)
		result.TimingsMS["ghost_ms"] = ghostResult.TotalMS
		if ghostResult.Success {
			result.Markdown = ghostResult.Content
			result.RenderMode = ghostResult.RenderMode
			result.Success = !ghostResult.BlockedContent
			result.Blocked = ghostResult.BlockedContent
			return
		}
		slog.Warn("ghost escalation failed", "url", result.URL, "error", ghostResult.Error)
	}

	result.Success = assessment.Quality != QualityBlocked && result.Markdown != ""
}

// assessmentBlocked keeps the guard's judgment: a detection that the
// false-positive guard would overturn doesn't force the blocked class.
func assessmentBlocked(result *Result, detection ghost.BlockDetection) bool {
	if len(result.HTML) > guardLargeHTMLBytes {
		return false
	}
	if len(result.HTML) >= guardMediumHTMLMin && len(result.Markdown) > guardMarkdownBytes {
		return false
	}
	return detection.Blocked
}

// acquireSession prefers a pooled slot; a saturated pool falls back to a
// one-shot session when a factory is wired, otherwise surfaces
// backpressure to the caller.
func (o *Orchestrator) acquireSession(ctx context.Context, sessionID string) (*browser.Slot, browser.Session, func(), error) {
	if sessionID == "" {
		sessionID = fmt.Sprintf("crawl-%d", time.Now().UnixNano())
	}
	if o.pool != nil {
		if slot := o.pool.Acquire(ctx, sessionID); slot != nil {
			return slot, slot.Session, func() { o.pool.Release(ctx, slot) }, nil
		}
	}
	if o.factory != nil {
		session, err := o.factory(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("browser unavailable: %w", err)
		}
		return nil, session, func() { session.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("browser pool saturated")
}

// budgetRemains honors a caller-supplied total budget: once the remaining
// time (minus the safety margin) is gone, no further escalation happens.
func (o *Orchestrator) budgetRemains(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) > budgetSafetyMargin
}

func (o *Orchestrator) cachePut(result *Result) {
	if o.cache == nil || !result.Success || result.Quarantined {
		return
	}
	if result.ContentQuality != string(QualitySufficient) {
		return
	}
	entry := &store.CachedCrawl{
		URL:            result.URL,
		FinalURL:       result.FinalURL,
		Title:          result.Title,
		Markdown:       result.Markdown,
		ContentQuality: result.ContentQuality,
		RenderMode:     result.RenderMode,
		StatusCode:     result.StatusCode,
	}
	if err := o.cache.Put(entry); err != nil {
		slog.Warn("crawl cache write failed", "url", result.URL, "error", err)
	}
}

// MarkdownOnly crawls a URL and returns just the markdown.
func (o *Orchestrator) MarkdownOnly(ctx context.Context, rawURL string, opts Options) (string, error) {
	result := o.Crawl(ctx, rawURL, opts)
	if !result.Success {
		return "", fmt.Errorf("crawl failed: %s", firstNonEmpty(result.Error, result.BlockReason, "no content"))
	}
	return result.Markdown, nil
}

// BatchSummary is the envelope for a multi-URL crawl.
type BatchSummary struct {
	URLs    []string       `json:"urls"`
	Results []*Result      `json:"results"`
	Failed  []BatchFailure `json:"failed,omitempty"`
	Summary BatchCounts    `json:"summary"`
}

type BatchFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type BatchCounts struct {
	Total            int   `json:"total"`
	Success          int   `json:"success"`
	Failed           int   `json:"failed"`
	ProcessingTimeMS int64 `json:"processing_time_ms"`
}

// BatchCrawl crawls multiple URLs with bounded concurrency.
func (o *Orchestrator) BatchCrawl(ctx context.Context, urls []string, maxConcurrent int, opts Options) *BatchSummary {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	start := time.Now()
	summary := &BatchSummary{URLs: urls}
	if len(urls) == 0 {
		return summary
	}

	sem := make(chan struct{}, maxConcurrent)
	results := make([]*Result, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(idx int, crawlURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = o.Crawl(ctx, crawlURL, opts)
		}(i, u)
	}
	wg.Wait()

	for i, r := range results {
		if r != nil && r.Success {
			summary.Results = append(summary.Results, r)
		} else {
			errMsg := "crawl failed"
			if r != nil && r.Error != "" {
				errMsg = r.Error
			}
			summary.Failed = append(summary.Failed, BatchFailure{URL: urls[i], Error: errMsg})
		}
	}
	summary.Summary = BatchCounts{
		Total:            len(urls),
		Success:          len(summary.Results),
		Failed:           len(summary.Failed),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
	slog.Info("batch crawl completed", "total", len(urls), "success", summary.Summary.Success)
	return summary
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
