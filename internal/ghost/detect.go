package ghost

import (
	"fmt"
	"strings"
)

// BlockSignal categorizes why a page looks like an anti-bot interstitial.
type BlockSignal string

const (
	SignalCloudflare    BlockSignal = "cloudflare_challenge"
	SignalCaptcha       BlockSignal = "captcha"
	SignalSessionVerify BlockSignal = "session_verification"
	SignalAccessDenied  BlockSignal = "access_denied"
	SignalBotChallenge  BlockSignal = "bot_challenge"
	SignalEmptyShell    BlockSignal = "empty_spa_shell"
	SignalHTTP403       BlockSignal = "http_403"
	SignalHTTP429       BlockSignal = "http_429"
	SignalHTTP503       BlockSignal = "http_503"
)

// BlockDetection is the result of block-signal analysis.
type BlockDetection struct {
	Blocked         bool        `json:"blocked"`
	Signal          BlockSignal `json:"signal,omitempty"`
	Reason          string      `json:"reason,omitempty"`
	CaptchaDetected bool        `json:"captcha_detected"`
	Confidence      float64     `json:"confidence"`
}

// Phrases that indicate anti-bot blocking, ordered by specificity.
var blockPatterns = []struct {
	phrase     string
	signal     BlockSignal
	confidence float64
}{
	{"cloudflare", SignalCloudflare, 0.95},
	{"verify your session", SignalSessionVerify, 0.9},
	{"captcha", SignalCaptcha, 0.95},
	{"recaptcha", SignalCaptcha, 0.95},
	{"hcaptcha", SignalCaptcha, 0.95},
	{"access denied", SignalAccessDenied, 0.8},
	{"just a moment", SignalBotChallenge, 0.85},
	{"are you human", SignalBotChallenge, 0.9},
	{"attention required", SignalBotChallenge, 0.85},
	{"checking your browser", SignalBotChallenge, 0.9},
	{"please wait while we verify", SignalBotChallenge, 0.9},
	{"enable javascript and cookies", SignalBotChallenge, 0.8},
}

const (
	emptyShellCharThreshold = 200
	emptyShellWordThreshold = 30
	emptyShellMinHTMLBytes  = 500
)

// DetectInput carries everything the block detector looks at.
type DetectInput struct {
	HTML           string
	Markdown       string
	StatusCode     int
	BodyCharCount  int
	BodyWordCount  int
	ContentQuality string
}

// DetectBlock analyzes crawl output for anti-bot block signals.
func DetectBlock(in DetectInput) BlockDetection {
	combined := strings.ToLower(in.HTML + "\n" + in.Markdown)

	for _, p := range blockPatterns {
		if strings.Contains(combined, p.phrase) {
			return BlockDetection{
				Blocked:         true,
				Signal:          p.signal,
				Reason:          fmt.Sprintf("detected %q in page content", p.phrase),
				CaptchaDetected: p.signal == SignalCaptcha,
				Confidence:      p.confidence,
			}
		}
	}

	switch in.StatusCode {
	case 403:
		return BlockDetection{Blocked: true, Signal: SignalHTTP403, Reason: "HTTP 403 Forbidden", Confidence: 0.7}
	case 429:
		return BlockDetection{Blocked: true, Signal: SignalHTTP429, Reason: "HTTP 429 Too Many Requests", Confidence: 0.8}
	case 503:
		return BlockDetection{Blocked: true, Signal: SignalHTTP503, Reason: "HTTP 503 Service Unavailable", Confidence: 0.75}
	}

	// Empty SPA shell: non-trivial HTML, near-zero text content.
	if in.BodyCharCount < emptyShellCharThreshold &&
		in.BodyWordCount < emptyShellWordThreshold &&
		in.HTML != "" &&
		len(in.HTML) > emptyShellMinHTMLBytes {
		return BlockDetection{
			Blocked:    true,
			Signal:     SignalEmptyShell,
			Reason:     "empty SPA shell: HTML present but minimal text content",
			Confidence: 0.6,
		}
	}

	if in.ContentQuality == "blocked" {
		return BlockDetection{
			Blocked:    true,
			Signal:     SignalBotChallenge,
			Reason:     "crawler classified content quality as blocked",
			Confidence: 0.85,
		}
	}

	return BlockDetection{}
}

// ShouldTrigger decides whether to activate the ghost pipeline for a
// detection. Low-confidence access-denied results are authn failures, not
// anti-bot situations, and never trigger.
func ShouldTrigger(detection BlockDetection, ghostEnabled, autoTrigger bool) bool {
	if !ghostEnabled || !autoTrigger {
		return false
	}
	if !detection.Blocked {
		return false
	}
	if detection.Signal == SignalAccessDenied && detection.Confidence < 0.85 {
		return false
	}
	return true
}
