package policy

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckToolCall_ToolAllowlist(t *testing.T) {
	tests := []struct {
		name    string
		tool    string
		allowed []string
		want    bool
	}{
		{"empty allowlist allows all", "crawl", nil, true},
		{"listed tool allowed", "crawl", []string{"crawl", "markdown"}, true},
		{"unlisted tool denied", "shell", []string{"crawl"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := CheckToolCall(tt.tool, nil, Config{AllowedTools: tt.allowed})
			if verdict.Allowed != tt.want {
				t.Errorf("allowed = %v, want %v (reason: %s)", verdict.Allowed, tt.want, verdict.Reason)
			}
			if !verdict.Allowed && len(verdict.Flags) == 0 {
				t.Error("denial carries no flags")
			}
		})
	}
}

func TestCheckToolCall_URLArgs(t *testing.T) {
	cfg := Config{AllowedDomains: []string{"example.com"}}

	tests := []struct {
		name string
		args map[string]any
		want bool
	}{
		{"allowed domain", map[string]any{"url": "https://example.com/page"}, true},
		{"subdomain allowed", map[string]any{"url": "https://docs.example.com/x"}, true},
		{"suffix trick denied", map[string]any{"url": "https://evilexample.com/"}, false},
		{"other domain denied", map[string]any{"url": "https://other.org/"}, false},
		{"urls list, one bad", map[string]any{"urls": []any{"https://example.com/a", "https://other.org/b"}}, false},
		{"target_url key scanned", map[string]any{"target_url": "https://other.org/"}, false},
		{"non-url key ignored", map[string]any{"query": "https://other.org/"}, true},
		{"unparseable url denied", map[string]any{"url": "://bad"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := CheckToolCall("crawl", tt.args, cfg)
			if verdict.Allowed != tt.want {
				t.Errorf("allowed = %v, want %v (reason: %s)", verdict.Allowed, tt.want, verdict.Reason)
			}
		})
	}
}

func TestCheckURL_PrivateRanges(t *testing.T) {
	cfg := Config{BlockPrivateRanges: true}

	tests := []struct {
		url  string
		want bool // allowed
	}{
		{"http://10.0.0.5/", false},
		{"http://172.16.1.1/", false},
		{"http://192.168.1.1/", false},
		{"http://127.0.0.1:8080/", false},
		{"http://169.254.10.10/", false},
		{"http://[::1]/", false},
		{"http://[fe80::1]/", false},
		{"http://[fc00::2]/", false},
		{"http://8.8.8.8/", true},
		{"http://1.1.1.1/", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			verdict := CheckFetchURL(tt.url, cfg)
			if verdict.Allowed != tt.want {
				t.Errorf("allowed = %v, want %v (reason: %s)", verdict.Allowed, tt.want, verdict.Reason)
			}
			if !verdict.Allowed && !strings.Contains(verdict.Reason, "private") {
				t.Errorf("denial reason %q does not mention private", verdict.Reason)
			}
		})
	}
}

// Unresolvable hostnames are not auto-denied: a DNS outage must not flip
// every request to denied.
func TestResolvesToPrivate_DNSFailureIsNotPrivate(t *testing.T) {
	orig := lookupHost
	defer func() { lookupHost = orig }()
	lookupHost = func(host string) ([]string, error) {
		return nil, errors.New("no such host")
	}

	if ResolvesToPrivate("definitely-not-resolvable.example") {
		t.Error("unresolvable host treated as private")
	}
}

func TestResolvesToPrivate_ResolvedPrivate(t *testing.T) {
	orig := lookupHost
	defer func() { lookupHost = orig }()
	lookupHost = func(host string) ([]string, error) {
		return []string{"93.184.216.34", "10.1.2.3"}, nil
	}

	if !ResolvesToPrivate("internal.example.com") {
		t.Error("host resolving to 10/8 not flagged private")
	}
}

func TestCheckToolCall_Deterministic(t *testing.T) {
	cfg := Config{AllowedTools: []string{"crawl"}, AllowedDomains: []string{"example.com"}}
	args := map[string]any{"url": "https://example.com/"}
	first := CheckToolCall("crawl", args, cfg)
	for i := 0; i < 10; i++ {
		again := CheckToolCall("crawl", args, cfg)
		if again.Allowed != first.Allowed || again.Reason != first.Reason {
			t.Fatalf("verdict changed between identical calls: %+v vs %+v", first, again)
		}
	}
}
