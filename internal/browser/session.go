package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const sessionUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.6367.60 Safari/537.36"

// Cookie is the transport-neutral cookie shape shared with the cookie store.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// NavInfo describes the outcome of a navigation.
type NavInfo struct {
	StatusCode int
	FinalURL   string
}

// Session is one live browser page. The pool hands these out; the crawler,
// challenge solver, ghost capture, and streaming endpoints all drive pages
// through this interface so tests can substitute fakes.
type Session interface {
	Navigate(ctx context.Context, url string, waitUntil string, waitAfterLoad time.Duration, jsPayload string) (*NavInfo, error)
	HTML() (string, error)
	Title() (string, error)
	VisibleText() (string, error)
	Screenshot(fullPage bool) ([]byte, error)
	Eval(js string) error
	Has(selector string) (present bool, visible bool, err error)
	Attribute(selector, name string) (string, error)
	Cookies() ([]Cookie, error)
	SetCookies(cookies []Cookie) error
	Blank() error
	Close() error

	// Streaming support
	StartScreencast(quality, maxWidth int, onFrame func(jpeg []byte)) (stop func(), err error)
	Click(x, y float64) error
	Scroll(dx, dy float64) error
	Type(text string) error
}

// Factory creates a fresh Session. The pool calls it at startup and when a
// slot has to be rebuilt.
type Factory func(ctx context.Context) (Session, error)

// NewRodFactory builds sessions backed by a go-rod Chromium instance, one
// browser per session for context isolation.
func NewRodFactory(headless bool, viewportWidth int) Factory {
	return func(ctx context.Context) (Session, error) {
		l := launcher.New().
			Headless(headless).
			Set("disable-gpu").
			Set("no-sandbox").
			Set("disable-dev-shm-usage").
			Set("disable-extensions").
			Set("mute-audio").
			Set("no-first-run")

		controlURL, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}

		b := rod.New().ControlURL(controlURL).Context(ctx)
		if err := b.Connect(); err != nil {
			l.Kill()
			return nil, fmt.Errorf("connect browser: %w", err)
		}

		page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			b.Close()
			l.Kill()
			return nil, fmt.Errorf("create page: %w", err)
		}

		height := viewportWidth * 9 / 16
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  viewportWidth,
			Height: height,
		}); err != nil {
			b.Close()
			l.Kill()
			return nil, fmt.Errorf("set viewport: %w", err)
		}

		_ = proto.NetworkSetUserAgentOverride{UserAgent: sessionUserAgent}.Call(page)

		// Stealth patches applied before any document loads.
		if _, err := page.EvalOnNewDocument(stealthScript); err != nil {
			b.Close()
			l.Kill()
			return nil, fmt.Errorf("inject stealth: %w", err)
		}

		return &rodSession{launcher: l, browser: b, page: page}, nil
	}
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

func (s *rodSession) Navigate(ctx context.Context, url string, waitUntil string, waitAfterLoad time.Duration, jsPayload string) (*NavInfo, error) {
	page := s.page.Context(ctx)

	// Capture the document response status as it arrives.
	var resp proto.NetworkResponseReceived
	waitResp := page.WaitEvent(&resp)

	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}

	switch waitUntil {
	case "networkidle":
		if err := page.WaitLoad(); err != nil {
			return nil, fmt.Errorf("wait load: %w", err)
		}
		waitIdle := page.WaitRequestIdle(800*time.Millisecond, nil, nil, nil)
		waitIdle()
	case "domcontentloaded", "":
		if err := page.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			return nil, fmt.Errorf("wait dom stable: %w", err)
		}
	default: // selector wait
		if _, err := page.Element(waitUntil); err != nil {
			return nil, fmt.Errorf("wait for selector %q: %w", waitUntil, err)
		}
	}

	waitResp()

	if jsPayload != "" {
		if _, err := page.Eval(jsPayload); err != nil {
			return nil, fmt.Errorf("inject payload: %w", err)
		}
	}

	if waitAfterLoad > 0 {
		select {
		case <-time.After(waitAfterLoad):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	info := &NavInfo{FinalURL: url}
	if resp.Response != nil {
		info.StatusCode = resp.Response.Status
	}
	if pageInfo, err := page.Info(); err == nil {
		info.FinalURL = pageInfo.URL
	}
	return info, nil
}

func (s *rodSession) HTML() (string, error) {
	return s.page.HTML()
}

func (s *rodSession) Title() (string, error) {
	info, err := s.page.Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (s *rodSession) VisibleText() (string, error) {
	obj, err := s.page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", err
	}
	return obj.Value.Str(), nil
}

func (s *rodSession) Screenshot(fullPage bool) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if fullPage {
		return s.page.Screenshot(true, req)
	}
	return s.page.Screenshot(false, req)
}

func (s *rodSession) Eval(js string) error {
	_, err := s.page.Eval(js)
	return err
}

func (s *rodSession) Has(selector string) (bool, bool, error) {
	present, el, err := s.page.Has(selector)
	if err != nil || !present {
		return false, false, err
	}
	visible, err := el.Visible()
	if err != nil {
		return true, false, nil
	}
	return true, visible, nil
}

func (s *rodSession) Attribute(selector, name string) (string, error) {
	present, el, err := s.page.Has(selector)
	if err != nil {
		return "", err
	}
	if !present {
		return "", nil
	}
	attr, err := el.Attribute(name)
	if err != nil || attr == nil {
		return "", err
	}
	return *attr, nil
}

func (s *rodSession) Cookies() ([]Cookie, error) {
	raw, err := s.page.Cookies(nil)
	if err != nil {
		return nil, err
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return cookies, nil
}

func (s *rodSession) SetCookies(cookies []Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return s.page.SetCookies(params)
}

func (s *rodSession) Blank() error {
	if err := s.page.Navigate("about:blank"); err != nil {
		return err
	}
	return s.page.WaitLoad()
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	return err
}

func (s *rodSession) StartScreencast(quality, maxWidth int, onFrame func([]byte)) (func(), error) {
	err := proto.PageStartScreencast{
		Format:   proto.PageStartScreencastFormatJpeg,
		Quality:  &quality,
		MaxWidth: &maxWidth,
	}.Call(s.page)
	if err != nil {
		return nil, fmt.Errorf("start screencast: %w", err)
	}

	stopEvents := s.page.EachEvent(func(e *proto.PageScreencastFrame) {
		data := []byte(e.Data)
		onFrame(data)
		_ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(s.page)
	})

	stop := func() {
		_ = proto.PageStopScreencast{}.Call(s.page)
		stopEvents()
	}
	return stop, nil
}

func (s *rodSession) Click(x, y float64) error {
	if err := s.page.Mouse.MoveTo(proto.NewPoint(x, y)); err != nil {
		return err
	}
	return s.page.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func (s *rodSession) Scroll(dx, dy float64) error {
	return s.page.Mouse.Scroll(dx, dy, 4)
}

func (s *rodSession) Type(text string) error {
	return s.page.InsertText(text)
}
