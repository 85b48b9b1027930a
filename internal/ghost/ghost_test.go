package ghost

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gocrawl/internal/browser"
	"github.com/nextlevelbuilder/gocrawl/internal/markdown"
)

type fakeCaptureSession struct {
	html string
}

func (s *fakeCaptureSession) Navigate(ctx context.Context, url, waitUntil string, waitAfterLoad time.Duration, jsPayload string) (*browser.NavInfo, error) {
	return &browser.NavInfo{StatusCode: 200, FinalURL: url}, nil
}
func (s *fakeCaptureSession) HTML() (string, error)        { return s.html, nil }
func (s *fakeCaptureSession) Title() (string, error)       { return "", nil }
func (s *fakeCaptureSession) VisibleText() (string, error) { return "", nil }
func (s *fakeCaptureSession) Screenshot(fullPage bool) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G', 0, 0}, nil
}
func (s *fakeCaptureSession) Eval(js string) error { return nil }
func (s *fakeCaptureSession) Has(selector string) (bool, bool, error) {
	return false, false, nil
}
func (s *fakeCaptureSession) Attribute(selector, name string) (string, error) { return "", nil }
func (s *fakeCaptureSession) Cookies() ([]browser.Cookie, error)              { return nil, nil }
func (s *fakeCaptureSession) SetCookies(cookies []browser.Cookie) error       { return nil }
func (s *fakeCaptureSession) Blank() error                                    { return nil }
func (s *fakeCaptureSession) Close() error                                    { return nil }
func (s *fakeCaptureSession) StartScreencast(quality, maxWidth int, onFrame func([]byte)) (func(), error) {
	return func() {}, nil
}
func (s *fakeCaptureSession) Click(x, y float64) error    { return nil }
func (s *fakeCaptureSession) Scroll(dx, dy float64) error { return nil }
func (s *fakeCaptureSession) Type(text string) error      { return nil }

type fakeVision struct {
	text string
	err  error
}

func (v *fakeVision) Vision(ctx context.Context, image []byte, prompt, detail string) (string, error) {
	return v.text, v.err
}
func (v *fakeVision) Name() string { return "fake-vision" }

func fakeRunner(html string) *Runner {
	factory := func(ctx context.Context) (browser.Session, error) {
		return &fakeCaptureSession{html: html}, nil
	}
	return NewRunner(nil, factory, markdown.NewReadability(), 1280, 5*time.Second)
}

func TestRun_VisionExtraction(t *testing.T) {
	runner := fakeRunner("<html><body>short</body></html>")
	vision := &fakeVision{text: "Extracted article text from the screenshot."}

	result := runner.Run(context.Background(), "https://example.com", vision, "", nil)

	if !result.Success {
		t.Fatalf("run failed: %s", result.Error)
	}
	if result.RenderMode != "ghost" {
		t.Errorf("render_mode = %s, want ghost", result.RenderMode)
	}
	if result.Provider != "fake-vision" {
		t.Errorf("provider = %s", result.Provider)
	}
	if result.BlockedContent {
		t.Error("clean extraction flagged blocked")
	}
	if !strings.Contains(result.Content, "Extracted article") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestRun_BlockedContentFlag(t *testing.T) {
	runner := fakeRunner("<html><body>x</body></html>")
	vision := &fakeVision{text: "The page shows a CAPTCHA challenge. Please verify you are human."}

	result := runner.Run(context.Background(), "https://example.com", vision, "", nil)
	if !result.Success {
		t.Fatalf("run failed: %s", result.Error)
	}
	if !result.BlockedContent {
		t.Error("challenge description not flagged as blocked content")
	}
}

func TestRun_NoProvider(t *testing.T) {
	runner := fakeRunner("<html><body>x</body></html>")
	result := runner.Run(context.Background(), "https://example.com", nil, "", nil)
	if result.Success {
		t.Error("run without provider reported success")
	}
	if result.Error == "" {
		t.Error("no error recorded")
	}
}
