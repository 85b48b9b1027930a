package challenge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/browser"
)

// Type classifies a detected Cloudflare challenge.
type Type string

const (
	TypeTurnstile    Type = "turnstile"
	TypeJSChallenge  Type = "js_challenge"
	TypeBrowserCheck Type = "browser_check"
	TypeManaged      Type = "managed_challenge"
	TypeNone         Type = "none"
)

// Detection is the result of challenge detection on a live page.
type Detection struct {
	Detected        bool    `json:"detected"`
	ChallengeType   Type    `json:"challenge_type"`
	Confidence      float64 `json:"confidence"`
	SelectorMatched string  `json:"selector_matched,omitempty"`
}

// Result is the outcome of a resolution attempt.
type Result struct {
	Resolved      bool   `json:"resolved"`
	ChallengeType Type   `json:"challenge_type"`
	Method        string `json:"method"` // "auto_resolve", "capsolver", "none"
	WaitTimeMS    int64  `json:"wait_time_ms"`
	Error         string `json:"error,omitempty"`
}

const (
	DefaultAutoWaitMS      = 15_000
	DefaultPollIntervalMS  = 500
	DefaultSolverTimeoutMS = 30_000
	minHeuristicHTMLBytes  = 10_000
)

// Selectors that indicate a challenge is present, with the type each implies.
var challengeSelectors = []struct {
	selector string
	ctype    Type
}{
	{"#challenge-running", TypeJSChallenge},
	{"#challenge-stage", TypeJSChallenge},
	{".cf-browser-verification", TypeBrowserCheck},
	{`iframe[src*="challenges.cloudflare.com"]`, TypeTurnstile},
	{"#turnstile-wrapper", TypeTurnstile},
	{"#cf-challenge-running", TypeManaged},
	{".cf-turnstile", TypeTurnstile},
}

// Selectors that indicate the challenge has been resolved.
var resolvedSelectors = []string{
	"#challenge-success",
	`#challenge-stage[style*="display: none"]`,
}

// Localized title fragments that mark a challenge page.
var challengeTitlePatterns = []string{
	// English
	"just a moment",
	"attention required",
	"checking your browser",
	"please wait",
	"one more step",
	"verify you are human",
	// Portuguese
	"um momento",
	"verificação de segurança",
	// Spanish
	"un momento",
	"verificación de seguridad",
	// French
	"un instant",
	"vérification de sécurité",
	// German
	"einen moment",
	"sicherheitsüberprüfung",
}

// Content keywords for the small-page heuristic; two or more hits on a page
// under 10KB count as a challenge even without the standard selectors.
var contentSignals = []string{
	"cloudflare",
	"cf-browser-verification",
	"ray id",
	"challenge-platform",
	"turnstile",
	"cf_chl_opt",
	"performance & security by",
}

// Solver runs detection and resolution against live pages.
type Solver struct {
	capsolver      *CapSolverClient // nil when no API key is configured
	autoWait       time.Duration
	pollInterval   time.Duration
	solverTimeout  time.Duration
	warnedNoSolver bool
}

type SolverOption func(*Solver)

func WithCapSolver(client *CapSolverClient) SolverOption {
	return func(s *Solver) { s.capsolver = client }
}

func WithAutoWait(d time.Duration) SolverOption {
	return func(s *Solver) { s.autoWait = d }
}

func WithPollInterval(d time.Duration) SolverOption {
	return func(s *Solver) { s.pollInterval = d }
}

func NewSolver(opts ...SolverOption) *Solver {
	s := &Solver{
		autoWait:      DefaultAutoWaitMS * time.Millisecond,
		pollInterval:  DefaultPollIntervalMS * time.Millisecond,
		solverTimeout: DefaultSolverTimeoutMS * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Detect checks a live page for a challenge: title first (cheap), then DOM
// selectors, then the small-page content heuristic.
func (s *Solver) Detect(ctx context.Context, page browser.Session) Detection {
	if title, err := page.Title(); err == nil && title != "" {
		lower := strings.ToLower(title)
		for _, pattern := range challengeTitlePatterns {
			if strings.Contains(lower, pattern) {
				return Detection{
					Detected:        true,
					ChallengeType:   TypeJSChallenge,
					Confidence:      0.9,
					SelectorMatched: "title:" + pattern,
				}
			}
		}
	}

	for _, entry := range challengeSelectors {
		present, visible, err := page.Has(entry.selector)
		if err != nil || !present {
			continue
		}
		confidence := 0.7
		if visible {
			confidence = 0.95
		}
		return Detection{
			Detected:        true,
			ChallengeType:   entry.ctype,
			Confidence:      confidence,
			SelectorMatched: entry.selector,
		}
	}

	if html, err := page.HTML(); err == nil && html != "" && len(html) < minHeuristicHTMLBytes {
		lower := strings.ToLower(html)
		var matched []string
		for _, signal := range contentSignals {
			if strings.Contains(lower, signal) {
				matched = append(matched, signal)
			}
		}
		if len(matched) >= 2 {
			slog.Info("challenge detected via content heuristic", "signals", matched)
			if len(matched) > 3 {
				matched = matched[:3]
			}
			return Detection{
				Detected:        true,
				ChallengeType:   TypeManaged,
				Confidence:      0.8,
				SelectorMatched: "content_heuristic:" + strings.Join(matched, ","),
			}
		}
	}

	return Detection{ChallengeType: TypeNone}
}

// WaitForResolution polls until the challenge disappears or a resolved
// marker appears, up to the auto-wait budget.
func (s *Solver) WaitForResolution(ctx context.Context, page browser.Session) Result {
	detection := s.Detect(ctx, page)
	if !detection.Detected {
		return Result{Resolved: true, ChallengeType: TypeNone, Method: "none"}
	}

	start := time.Now()
	for time.Since(start) < s.autoWait {
		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return Result{
				Resolved:      false,
				ChallengeType: detection.ChallengeType,
				Method:        "none",
				WaitTimeMS:    time.Since(start).Milliseconds(),
				Error:         ctx.Err().Error(),
			}
		}

		current := s.Detect(ctx, page)
		if !current.Detected {
			return Result{
				Resolved:      true,
				ChallengeType: detection.ChallengeType,
				Method:        "auto_resolve",
				WaitTimeMS:    time.Since(start).Milliseconds(),
			}
		}
		for _, selector := range resolvedSelectors {
			if present, _, err := page.Has(selector); err == nil && present {
				return Result{
					Resolved:      true,
					ChallengeType: detection.ChallengeType,
					Method:        "auto_resolve",
					WaitTimeMS:    time.Since(start).Milliseconds(),
				}
			}
		}
	}

	return Result{
		Resolved:      false,
		ChallengeType: detection.ChallengeType,
		Method:        "none",
		WaitTimeMS:    time.Since(start).Milliseconds(),
		Error:         fmt.Sprintf("challenge auto-resolve timeout after %dms", s.autoWait.Milliseconds()),
	}
}

// Resolve runs the full pipeline: detect, wait for auto-resolve, then the
// external solver for Turnstile-class challenges.
func (s *Solver) Resolve(ctx context.Context, page browser.Session, siteURL string) Result {
	detection := s.Detect(ctx, page)
	if !detection.Detected {
		return Result{Resolved: true, ChallengeType: TypeNone, Method: "none"}
	}

	slog.Info("challenge detected",
		"type", detection.ChallengeType,
		"confidence", detection.Confidence,
		"selector", detection.SelectorMatched)

	autoResult := s.WaitForResolution(ctx, page)
	if autoResult.Resolved {
		slog.Info("challenge auto-resolved", "wait_ms", autoResult.WaitTimeMS)
		return autoResult
	}

	// Managed challenges often embed Turnstile under the hood.
	if detection.ChallengeType == TypeTurnstile || detection.ChallengeType == TypeManaged {
		capResult := s.solveTurnstile(ctx, page, siteURL)
		if capResult.Resolved {
			capResult.WaitTimeMS += autoResult.WaitTimeMS
			return capResult
		}
	}

	return Result{
		Resolved:      false,
		ChallengeType: detection.ChallengeType,
		Method:        "none",
		WaitTimeMS:    autoResult.WaitTimeMS,
		Error:         firstNonEmpty(autoResult.Error, "challenge not resolved"),
	}
}

// solveTurnstile extracts the sitekey, fetches a token from the external
// service, injects it, and re-checks the page.
func (s *Solver) solveTurnstile(ctx context.Context, page browser.Session, siteURL string) Result {
	if s.capsolver == nil {
		if !s.warnedNoSolver {
			slog.Warn("capsolver API key not configured, external solving disabled")
			s.warnedNoSolver = true
		}
		return Result{
			Resolved:      false,
			ChallengeType: TypeTurnstile,
			Method:        "none",
			Error:         "capsolver API key not configured",
		}
	}

	start := time.Now()

	sitekey := extractTurnstileSitekey(page)
	if sitekey == "" {
		return Result{
			Resolved:      false,
			ChallengeType: TypeTurnstile,
			Method:        "none",
			Error:         "could not extract turnstile sitekey",
		}
	}

	token, err := s.capsolver.SolveTurnstile(ctx, siteURL, sitekey, s.solverTimeout)
	if err != nil {
		return Result{
			Resolved:      false,
			ChallengeType: TypeTurnstile,
			Method:        "capsolver",
			WaitTimeMS:    time.Since(start).Milliseconds(),
			Error:         err.Error(),
		}
	}

	if err := injectTurnstileToken(page, token); err != nil {
		return Result{
			Resolved:      false,
			ChallengeType: TypeTurnstile,
			Method:        "capsolver",
			WaitTimeMS:    time.Since(start).Milliseconds(),
			Error:         fmt.Sprintf("token injection failed: %v", err),
		}
	}

	// Give the page a moment to process the token.
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
	}

	current := s.Detect(ctx, page)
	elapsed := time.Since(start).Milliseconds()
	if !current.Detected {
		return Result{
			Resolved:      true,
			ChallengeType: TypeTurnstile,
			Method:        "capsolver",
			WaitTimeMS:    elapsed,
		}
	}
	return Result{
		Resolved:      false,
		ChallengeType: TypeTurnstile,
		Method:        "capsolver",
		WaitTimeMS:    elapsed,
		Error:         "token injected but challenge still present",
	}
}

// extractTurnstileSitekey pulls the sitekey from widget attributes or the
// Turnstile iframe's src query.
func extractTurnstileSitekey(page browser.Session) string {
	for _, selector := range []string{".cf-turnstile[data-sitekey]", "div[data-turnstile-sitekey]"} {
		for _, attr := range []string{"data-sitekey", "data-turnstile-sitekey"} {
			if v, err := page.Attribute(selector, attr); err == nil && v != "" {
				return v
			}
		}
	}
	src, err := page.Attribute(`iframe[src*="challenges.cloudflare.com"]`, "src")
	if err != nil || src == "" {
		return ""
	}
	if idx := strings.Index(src, "sitekey="); idx >= 0 {
		key := src[idx+len("sitekey="):]
		if amp := strings.IndexByte(key, '&'); amp >= 0 {
			key = key[:amp]
		}
		return key
	}
	return ""
}

// injectTurnstileToken writes the solved token into every Turnstile response
// input, triggers any data-callback function, and dispatches input/change
// events so listeners fire.
func injectTurnstileToken(page browser.Session, token string) error {
	js := fmt.Sprintf(`() => {
	const token = %q;
	const inputs = document.querySelectorAll('input[name="cf-turnstile-response"]');
	inputs.forEach(input => { input.value = token; });

	const hidden = document.querySelectorAll('[name*="turnstile"]');
	hidden.forEach(input => { input.value = token; });

	const widgets = document.querySelectorAll('.cf-turnstile, [data-turnstile-sitekey]');
	for (const w of widgets) {
		const cb = w.getAttribute('data-callback');
		if (cb && typeof window[cb] === 'function') {
			window[cb](token);
		}
	}

	const forms = document.querySelectorAll('form[action*="challenge"]');
	if (forms.length > 0) {
		forms[0].submit();
	}

	inputs.forEach(input => {
		input.dispatchEvent(new Event('input', { bubbles: true }));
		input.dispatchEvent(new Event('change', { bubbles: true }));
	});
}`, token)
	return page.Eval(js)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
