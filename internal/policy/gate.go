package policy

import (
	"fmt"
	"strings"
)

// Config is the static policy input for a run. Empty allowlists allow all.
type Config struct {
	AllowedTools       []string
	AllowedDomains     []string
	BlockPrivateRanges bool
}

// Verdict is an allow/deny decision with a machine-readable reason.
type Verdict struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Flags   []string `json:"flags,omitempty"`
}

func allow() Verdict { return Verdict{Allowed: true} }

func deny(reason string, flags ...string) Verdict {
	return Verdict{Allowed: false, Reason: reason, Flags: flags}
}

// Arg key names scanned for URL values.
var urlArgKeys = map[string]bool{
	"url":        true,
	"urls":       true,
	"target_url": true,
	"href":       true,
}

// CheckToolCall gates a tool call before dispatch: tool allowlist first,
// then every URL-shaped argument through CheckURL.
func CheckToolCall(toolName string, args map[string]any, cfg Config) Verdict {
	if len(cfg.AllowedTools) > 0 && !contains(cfg.AllowedTools, toolName) {
		return deny(fmt.Sprintf("tool %q not in allowed_tools", toolName), "tool_blocked")
	}

	for key, value := range args {
		for _, u := range extractURLs(key, value) {
			if reason := CheckURL(u, cfg.AllowedDomains, cfg.BlockPrivateRanges); reason != "" {
				return deny(reason, "url_blocked")
			}
		}
	}
	return allow()
}

// CheckFetchURL gates a raw URL fetch (used by crawl tools before requesting).
func CheckFetchURL(rawURL string, cfg Config) Verdict {
	if reason := CheckURL(rawURL, cfg.AllowedDomains, cfg.BlockPrivateRanges); reason != "" {
		return deny(reason, "url_blocked")
	}
	return allow()
}

func extractURLs(key string, value any) []string {
	if !urlArgKeys[strings.ToLower(key)] {
		return nil
	}
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		urls := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				urls = append(urls, s)
			}
		}
		return urls
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
