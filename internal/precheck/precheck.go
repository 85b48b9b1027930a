package precheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Lightweight HTTP pre-check: one browser-impersonating GET that decides
// whether the content is usable as-is or a full browser crawl is needed.

const (
	defaultTimeout = 15 * time.Second
	usableMinBytes = 1024
	scanWindow     = 5000 // only the first 5KB is scanned for markers
	maxBodyBytes   = 4 << 20

	precheckUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.6367.60 Safari/537.36"
)

// Markers that indicate the page needs a real browser.
var browserNeededMarkers = []string{
	"cf-browser-verification",
	"cf-challenge-running",
	"challenge-platform",
	"_cf_chl",
	"managed-challenge",
	"<noscript>",
	"enable javascript",
	"browser check",
	"ddos-guard",
	"datadome",
}

// Result of an HTTP pre-check. NeedsBrowser defaults to true as the safe
// fallback.
type Result struct {
	URL           string            `json:"url"`
	Success       bool              `json:"success"`
	NeedsBrowser  bool              `json:"needs_browser"`
	StatusCode    int               `json:"status_code,omitempty"`
	Content       string            `json:"content,omitempty"`
	ContentLength int               `json:"content_length"`
	Headers       map[string]string `json:"headers,omitempty"`
	UsableContent string            `json:"usable_content,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Checker issues prechecks with a shared client.
type Checker struct {
	client  *http.Client
	timeout time.Duration
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Checker{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		timeout: timeout,
	}
}

// Check fetches the URL once with realistic browser headers and classifies
// the response. Network errors fail safe to the browser path.
func (c *Checker) Check(ctx context.Context, url string) Result {
	result := Result{URL: url, NeedsBrowser: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("build request: %v", err)
		return result
	}
	req.Header.Set("User-Agent", precheckUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://www.google.com/")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("http precheck failed", "url", url, "error", err)
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("http precheck read failed", "url", url, "error", err)
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.StatusCode = resp.StatusCode
	result.Content = string(body)
	result.ContentLength = len(result.Content)
	result.Headers = flattenHeaders(resp.Header)
	result.NeedsBrowser = needsBrowser(result.StatusCode, result.Content, result.ContentLength)

	if !result.NeedsBrowser && result.ContentLength > usableMinBytes {
		result.UsableContent = result.Content
	}
	return result
}

// needsBrowser decides whether a response is a challenge shell rather than
// real content.
func needsBrowser(statusCode int, content string, contentLength int) bool {
	if statusCode == http.StatusForbidden || statusCode == http.StatusServiceUnavailable {
		return true
	}
	if contentLength < usableMinBytes {
		return true
	}
	window := content
	if len(window) > scanWindow {
		window = window[:scanWindow]
	}
	window = strings.ToLower(window)
	for _, marker := range browserNeededMarkers {
		if strings.Contains(window, marker) {
			return true
		}
	}
	return false
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key := range h {
		out[key] = h.Get(key)
	}
	return out
}
