package policy

import (
	"regexp"
	"strings"
)

// Hidden-text prompt-injection detection. DOM extraction can include
// hidden/screen-reader-only text; instruction-like content that appears in
// the extracted text but not in the visually rendered text gets the crawl
// result quarantined. Deliberately conservative: high-signal patterns only.

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|disregard)\b.{0,40}\b(previous|above|earlier)\b.{0,20}\b(instructions|rules)\b`),
	regexp.MustCompile(`(?i)\b(system prompt|developer message)\b`),
	regexp.MustCompile(`(?i)\byou are (an|a)\s+(ai|language model|assistant)\b`),
	regexp.MustCompile(`(?i)\b(do not mention|never mention)\b.{0,40}\b(this|these)\b`),
	regexp.MustCompile(`(?i)\b(exfiltrate|leak|steal|dump)\b.{0,60}\b(token|secret|password|api key|apikey|credentials)\b`),
	regexp.MustCompile(`(?i)\b(call|invoke|use)\b.{0,30}\b(tool|function|mcp)\b`),
}

// InjectionAnalysis is the outcome of comparing extracted vs visible text.
type InjectionAnalysis struct {
	Quarantined      bool     `json:"quarantined"`
	QuarantineReason string   `json:"quarantine_reason,omitempty"`
	Flags            []string `json:"flags,omitempty"`
	VisibleCharCount int      `json:"visible_char_count"`
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

func normalizeForCompare(text string) string {
	return strings.Join(wordRe.FindAllString(strings.ToLower(text), -1), " ")
}

// AnalyzeHiddenInjection flags extracted text that carries instruction-like
// phrases absent from the visible rendered text. Content is kept either way;
// a quarantined result must never be fed back into an LLM.
func AnalyzeHiddenInjection(extractedText, visibleText string) InjectionAnalysis {
	analysis := InjectionAnalysis{
		VisibleCharCount: len(strings.TrimSpace(visibleText)),
	}

	visibleNorm := normalizeForCompare(visibleText)

	for _, pattern := range injectionPatterns {
		match := pattern.FindString(extractedText)
		if match == "" {
			continue
		}
		// Only quarantine when the matched phrase is NOT visible on the page.
		if strings.Contains(visibleNorm, normalizeForCompare(match)) {
			analysis.Flags = append(analysis.Flags, "visible_instruction_phrase")
			continue
		}
		analysis.Quarantined = true
		analysis.QuarantineReason = "instruction-like phrase in extracted text not present in visible text"
		analysis.Flags = append(analysis.Flags, "hidden_instruction_phrase")
		return analysis
	}
	return analysis
}
