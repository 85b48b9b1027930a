package crawler

import (
	"fmt"
	"regexp"
	"strings"
)

// Quality is the four-level ordinal classification of extracted text:
// blocked < empty < minimal < sufficient. It gates "return to the user"
// versus "escalate to ghost".
type Quality string

const (
	QualityBlocked    Quality = "blocked"
	QualityEmpty      Quality = "empty"
	QualityMinimal    Quality = "minimal"
	QualitySufficient Quality = "sufficient"
)

const (
	thinCharThreshold       = 80
	thinWordThreshold       = 15
	mediumThinCharThreshold = 600
	mediumThinWordThreshold = 120

	// False-positive guard: pages this large that merely mention a block
	// phrase (in nav, scripts) are legitimate content.
	guardLargeHTMLBytes = 10_000
	guardMediumHTMLMin  = 5_000
	guardMarkdownBytes  = 2_000
)

// Patterns that indicate bot-block/challenge pages.
var qualityBlockPatterns = []string{
	"cloudflare",
	"just a moment",
	"please verify you are a human",
	"captcha",
}

// Known error-page signatures that are never sufficient.
var errorPageSignatures = []string{
	"error code: 404",
	"you've arrived at an empty lot",
	"page not found",
	"doesn't look like there's anything at this address",
	"access denied",
}

var (
	imageMD   = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
	linkMD    = regexp.MustCompile(`\[([^\]]*)\]\(.*?\)`)
	headingMD = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	navNoise  = regexp.MustCompile(`(?i)(skip to (?:main )?content|cookie|privacy policy|terms of service` +
		`|©|all rights reserved|toggle navigation|hamburger|navbar)`)
)

// StripNoise removes markdown links, images, heading markers, and nav
// boilerplate so only body text is measured.
func StripNoise(text string) string {
	text = imageMD.ReplaceAllString(text, "")
	text = linkMD.ReplaceAllString(text, "$1")
	text = headingMD.ReplaceAllString(text, "")
	text = navNoise.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Assessment is the quality verdict plus the measurements behind it.
type Assessment struct {
	Quality       Quality `json:"quality"`
	CharCount     int     `json:"char_count"`
	WordCount     int     `json:"word_count"`
	BlockedReason string  `json:"blocked_reason,omitempty"`
	StatusCode    int     `json:"status_code,omitempty"`
	Reason        string  `json:"reason"`
}

// AssessInput is everything the classifier looks at. HTML is optional and
// only feeds the false-positive guard.
type AssessInput struct {
	Content    string
	HTML       string
	StatusCode int
	Blocked    bool
}

// Assess classifies crawl content quality. Decision order: block signals,
// then HTTP status, then error-page signatures, then body thresholds.
// Adding body text never downgrades the class; removing it never upgrades.
func Assess(in AssessInput) Assessment {
	lowered := strings.ToLower(in.Content)
	stripped := StripNoise(in.Content)
	charCount := len(stripped)
	wordCount := len(strings.Fields(stripped))

	base := Assessment{CharCount: charCount, WordCount: wordCount, StatusCode: in.StatusCode}

	if in.Blocked {
		base.Quality = QualityBlocked
		base.BlockedReason = "blocked flag from crawler"
		base.Reason = "blocked flag"
		return base
	}

	for _, phrase := range qualityBlockPatterns {
		if !strings.Contains(lowered, phrase) && !strings.Contains(strings.ToLower(in.HTML), phrase) {
			continue
		}
		// False-positive guard: legitimate pages name Cloudflare in their
		// nav/scripts. Big HTML, or medium HTML with substantial markdown,
		// is treated as real content.
		if len(in.HTML) > guardLargeHTMLBytes ||
			(len(in.HTML) >= guardMediumHTMLMin && len(in.HTML) <= guardLargeHTMLBytes && len(in.Content) > guardMarkdownBytes) {
			break
		}
		base.Quality = QualityBlocked
		base.BlockedReason = phrase
		base.Reason = fmt.Sprintf("blocked signature: %s", phrase)
		return base
	}

	if in.StatusCode >= 500 {
		base.Quality = QualityBlocked
		base.BlockedReason = fmt.Sprintf("status_code=%d", in.StatusCode)
		base.Reason = fmt.Sprintf("http_%d", in.StatusCode)
		return base
	}
	if in.StatusCode >= 400 {
		base.Quality = QualityMinimal
		base.Reason = fmt.Sprintf("http_%d", in.StatusCode)
		return base
	}

	for _, sig := range errorPageSignatures {
		if strings.Contains(lowered, sig) {
			base.Quality = QualityMinimal
			base.Reason = "error-page signature"
			return base
		}
	}

	if charCount < thinCharThreshold || wordCount < thinWordThreshold {
		base.Quality = QualityEmpty
		base.Reason = "thin body"
		return base
	}
	if charCount < mediumThinCharThreshold || wordCount < mediumThinWordThreshold {
		base.Quality = QualityMinimal
		base.Reason = "medium-thin body"
		return base
	}

	base.Quality = QualitySufficient
	base.Reason = "sufficient body"
	return base
}
