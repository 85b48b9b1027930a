package policy

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

const maxRedactDepth = 10

// Patterns that likely contain secrets.
var secretPatterns = []*regexp.Regexp{
	// API keys / tokens (generic key=value or key: value)
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|auth|bearer)\s*[:=]\s*\S+`),
	// AWS-style access keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	// JWT tokens
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
	// PEM private-key headers
	regexp.MustCompile(`-----BEGIN\s+(RSA|EC|DSA|OPENSSH)?\s*PRIVATE KEY-----`),
}

// Key name fragments that suggest the value is a secret.
var secretKeyFragments = []string{
	"secret", "password", "token", "api_key", "apikey", "private_key", "credentials",
}

// RedactText masks secret-like substrings in a string.
func RedactText(text string) string {
	if text == "" {
		return text
	}
	result := text
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, redactedPlaceholder)
	}
	return result
}

// RedactValue recursively masks secrets in maps, slices, and strings, up to
// a depth of 10. The input is not mutated.
func RedactValue(v any) any {
	return redactValue(v, 0)
}

func redactValue(v any, depth int) any {
	if depth > maxRedactDepth {
		return v
	}
	switch val := v.(type) {
	case string:
		return RedactText(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, item := range val {
			if isSecretKey(key) {
				out[key] = redactedPlaceholder
				continue
			}
			out[key] = redactValue(item, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item, depth+1)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = RedactText(item)
		}
		return out
	default:
		return v
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range secretKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
