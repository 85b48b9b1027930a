package challenge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/browser"
)

// fakePage simulates a page whose challenge state can flip mid-test.
type fakePage struct {
	title     string
	html      string
	selectors map[string]bool // selector -> visible
	attrs     map[string]string
	evals     []string

	// clearAfter clears all challenge state after N Detect-driven reads.
	clearAfter int
	reads      int
}

func (p *fakePage) maybeClear() {
	p.reads++
	if p.clearAfter > 0 && p.reads >= p.clearAfter {
		p.title = "Real Page"
		p.html = strings.Repeat("<p>real content</p>", 800)
		p.selectors = nil
	}
}

func (p *fakePage) Navigate(ctx context.Context, url, waitUntil string, waitAfterLoad time.Duration, jsPayload string) (*browser.NavInfo, error) {
	return &browser.NavInfo{StatusCode: 200, FinalURL: url}, nil
}
func (p *fakePage) HTML() (string, error) { return p.html, nil }
func (p *fakePage) Title() (string, error) {
	p.maybeClear()
	return p.title, nil
}
func (p *fakePage) VisibleText() (string, error) { return "", nil }
func (p *fakePage) Screenshot(fullPage bool) ([]byte, error) {
	return []byte{0xFF, 0xD8}, nil
}
func (p *fakePage) Eval(js string) error {
	p.evals = append(p.evals, js)
	return nil
}
func (p *fakePage) Has(selector string) (bool, bool, error) {
	visible, ok := p.selectors[selector]
	return ok, visible, nil
}
func (p *fakePage) Attribute(selector, name string) (string, error) {
	return p.attrs[selector+"|"+name], nil
}
func (p *fakePage) Cookies() ([]browser.Cookie, error)        { return nil, nil }
func (p *fakePage) SetCookies(cookies []browser.Cookie) error { return nil }
func (p *fakePage) Blank() error                              { return nil }
func (p *fakePage) Close() error                              { return nil }
func (p *fakePage) StartScreencast(quality, maxWidth int, onFrame func([]byte)) (func(), error) {
	return func() {}, nil
}
func (p *fakePage) Click(x, y float64) error    { return nil }
func (p *fakePage) Scroll(dx, dy float64) error { return nil }
func (p *fakePage) Type(text string) error      { return nil }

func TestDetect_TitlePatterns(t *testing.T) {
	tests := []string{
		"Just a moment...",
		"Attention Required! | Cloudflare",
		"Um momento — verificação de segurança",
		"Un instant, vérification de sécurité",
		"Einen Moment bitte",
	}
	solver := NewSolver()
	for _, title := range tests {
		t.Run(title, func(t *testing.T) {
			page := &fakePage{title: title}
			got := solver.Detect(context.Background(), page)
			if !got.Detected {
				t.Fatalf("title %q not detected", title)
			}
			if got.Confidence != 0.9 {
				t.Errorf("confidence = %v, want 0.9", got.Confidence)
			}
		})
	}
}

func TestDetect_Selectors(t *testing.T) {
	solver := NewSolver()

	tests := []struct {
		selector   string
		visible    bool
		wantType   Type
		confidence float64
	}{
		{"#challenge-running", true, TypeJSChallenge, 0.95},
		{".cf-browser-verification", false, TypeBrowserCheck, 0.7},
		{`iframe[src*="challenges.cloudflare.com"]`, true, TypeTurnstile, 0.95},
		{"#cf-challenge-running", false, TypeManaged, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			page := &fakePage{
				title:     "Some Site",
				selectors: map[string]bool{tt.selector: tt.visible},
			}
			got := solver.Detect(context.Background(), page)
			if !got.Detected {
				t.Fatal("selector not detected")
			}
			if got.ChallengeType != tt.wantType {
				t.Errorf("type = %s, want %s", got.ChallengeType, tt.wantType)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.confidence)
			}
		})
	}
}

func TestDetect_ContentHeuristic(t *testing.T) {
	solver := NewSolver()

	page := &fakePage{
		title: "Site",
		html:  "<html>cloudflare ... ray id: 12345 ...</html>",
	}
	got := solver.Detect(context.Background(), page)
	if !got.Detected {
		t.Fatal("small page with two signals not detected")
	}
	if got.ChallengeType != TypeManaged {
		t.Errorf("type = %s, want managed", got.ChallengeType)
	}
	if got.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", got.Confidence)
	}

	// One signal only: not enough.
	single := &fakePage{title: "Site", html: "<html>cloudflare cdn</html>"}
	if solver.Detect(context.Background(), single).Detected {
		t.Error("single signal should not trigger the heuristic")
	}

	// Big page: heuristic skipped.
	big := &fakePage{
		title: "Site",
		html:  "cloudflare ray id " + strings.Repeat("<p>content</p>", 1000),
	}
	if solver.Detect(context.Background(), big).Detected {
		t.Error("large page should not trigger the heuristic")
	}
}

func TestWaitForResolution_AutoResolves(t *testing.T) {
	page := &fakePage{
		title:      "Just a moment...",
		clearAfter: 3,
	}
	solver := NewSolver(WithAutoWait(2*time.Second), WithPollInterval(20*time.Millisecond))

	got := solver.WaitForResolution(context.Background(), page)
	if !got.Resolved {
		t.Fatalf("challenge did not auto-resolve: %+v", got)
	}
	if got.Method != "auto_resolve" {
		t.Errorf("method = %s, want auto_resolve", got.Method)
	}
}

func TestWaitForResolution_Timeout(t *testing.T) {
	page := &fakePage{title: "Just a moment..."}
	solver := NewSolver(WithAutoWait(100*time.Millisecond), WithPollInterval(20*time.Millisecond))

	got := solver.WaitForResolution(context.Background(), page)
	if got.Resolved {
		t.Fatal("stuck challenge reported resolved")
	}
	if got.Error == "" {
		t.Error("timeout carries no error")
	}
}

// Without an API key the solver reports not-configured instead of calling
// out.
func TestResolve_NoSolverConfigured(t *testing.T) {
	page := &fakePage{
		title:     "Site",
		selectors: map[string]bool{".cf-turnstile": true},
	}
	solver := NewSolver(WithAutoWait(50*time.Millisecond), WithPollInterval(20*time.Millisecond))

	got := solver.Resolve(context.Background(), page, "https://example.com")
	if got.Resolved {
		t.Fatal("unresolvable turnstile reported resolved")
	}
	if got.Method != "none" {
		t.Errorf("method = %s, want none", got.Method)
	}
}

func TestExtractTurnstileSitekey(t *testing.T) {
	tests := []struct {
		name string
		page *fakePage
		want string
	}{
		{
			name: "widget attribute",
			page: &fakePage{attrs: map[string]string{
				".cf-turnstile[data-sitekey]|data-sitekey": "0x4AAA",
			}},
			want: "0x4AAA",
		},
		{
			name: "iframe src query",
			page: &fakePage{attrs: map[string]string{
				`iframe[src*="challenges.cloudflare.com"]|src`: "https://challenges.cloudflare.com/t?sitekey=0x9BBB&other=1",
			}},
			want: "0x9BBB",
		},
		{
			name: "absent",
			page: &fakePage{},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractTurnstileSitekey(tt.page); got != tt.want {
				t.Errorf("sitekey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInjectTurnstileToken(t *testing.T) {
	page := &fakePage{}
	if err := injectTurnstileToken(page, "tok-123"); err != nil {
		t.Fatal(err)
	}
	if len(page.evals) != 1 {
		t.Fatalf("evals = %d, want 1", len(page.evals))
	}
	js := page.evals[0]
	for _, want := range []string{"tok-123", "cf-turnstile-response", "data-callback", "dispatchEvent"} {
		if !strings.Contains(js, want) {
			t.Errorf("injection script missing %q", want)
		}
	}
}
