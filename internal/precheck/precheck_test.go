package precheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNeedsBrowser(t *testing.T) {
	bigContent := strings.Repeat("real page content ", 200)

	tests := []struct {
		name       string
		statusCode int
		content    string
		want       bool
	}{
		{"403", 403, bigContent, true},
		{"503", 503, bigContent, true},
		{"short body", 200, "tiny", true},
		{"cf marker", 200, "<html>cf-browser-verification" + bigContent + "</html>", true},
		{"noscript marker", 200, "<html><noscript>enable javascript</noscript>" + bigContent, true},
		{"datadome marker", 200, "<html>datadome" + bigContent, true},
		{"clean big page", 200, "<html>" + bigContent + "</html>", false},
		{"marker beyond scan window", 200, strings.Repeat("x", 6000) + "cf-challenge-running", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := needsBrowser(tt.statusCode, tt.content, len(tt.content))
			if got != tt.want {
				t.Errorf("needsBrowser = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheck_UsableContent(t *testing.T) {
	body := "<html><body>" + strings.Repeat("article text ", 300) + "</body></html>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Language") == "" {
			t.Error("missing Accept-Language header")
		}
		if r.Header.Get("Referer") == "" {
			t.Error("missing Referer header")
		}
		w.Write([]byte(body))
	}))
	defer server.Close()

	checker := NewChecker(5 * time.Second)
	result := checker.Check(context.Background(), server.URL)

	if !result.Success {
		t.Fatalf("precheck failed: %s", result.Error)
	}
	if result.NeedsBrowser {
		t.Error("clean page classified as needing a browser")
	}
	if result.UsableContent == "" {
		t.Error("usable_content not populated")
	}
	if result.StatusCode != 200 {
		t.Errorf("status = %d", result.StatusCode)
	}
}

func TestCheck_ChallengeNeedsBrowser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("<html>challenge-platform " + strings.Repeat("x", 2000) + "</html>"))
	}))
	defer server.Close()

	checker := NewChecker(5 * time.Second)
	result := checker.Check(context.Background(), server.URL)

	if !result.Success {
		t.Fatalf("precheck failed: %s", result.Error)
	}
	if !result.NeedsBrowser {
		t.Error("challenge page not flagged for browser")
	}
	if result.UsableContent != "" {
		t.Error("challenge page produced usable_content")
	}
}

// Network errors fail safe to the browser path.
func TestCheck_NetworkErrorFailsSafe(t *testing.T) {
	checker := NewChecker(1 * time.Second)
	result := checker.Check(context.Background(), "http://127.0.0.1:1/unreachable")

	if result.Success {
		t.Error("unreachable host reported success")
	}
	if !result.NeedsBrowser {
		t.Error("network error must fall back to browser")
	}
	if result.Error == "" {
		t.Error("error not recorded")
	}
}
