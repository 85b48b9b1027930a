package ghost

import (
	"strings"
	"testing"
)

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name       string
		in         DetectInput
		wantSignal BlockSignal
		blocked    bool
	}{
		{
			name:       "cloudflare phrase",
			in:         DetectInput{HTML: "<title>Just a moment</title> cloudflare"},
			wantSignal: SignalCloudflare,
			blocked:    true,
		},
		{
			name:       "captcha",
			in:         DetectInput{Markdown: "please solve this recaptcha to continue"},
			wantSignal: SignalCaptcha,
			blocked:    true,
		},
		{
			name:       "http 403",
			in:         DetectInput{StatusCode: 403},
			wantSignal: SignalHTTP403,
			blocked:    true,
		},
		{
			name:       "http 429",
			in:         DetectInput{StatusCode: 429},
			wantSignal: SignalHTTP429,
			blocked:    true,
		},
		{
			name: "empty SPA shell",
			in: DetectInput{
				HTML:          "<html>" + strings.Repeat("<script>app()</script>", 50) + "</html>",
				BodyCharCount: 10,
				BodyWordCount: 2,
			},
			wantSignal: SignalEmptyShell,
			blocked:    true,
		},
		{
			name: "healthy page",
			in: DetectInput{
				HTML:          "<html><body>real article text</body></html>",
				Markdown:      "real article text with plenty of words",
				StatusCode:    200,
				BodyCharCount: 5000,
				BodyWordCount: 800,
			},
			blocked: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectBlock(tt.in)
			if got.Blocked != tt.blocked {
				t.Fatalf("blocked = %v, want %v (reason: %s)", got.Blocked, tt.blocked, got.Reason)
			}
			if tt.blocked && got.Signal != tt.wantSignal {
				t.Errorf("signal = %s, want %s", got.Signal, tt.wantSignal)
			}
		})
	}
}

func TestDetectBlock_CaptchaFlag(t *testing.T) {
	got := DetectBlock(DetectInput{Markdown: "complete the hcaptcha below"})
	if !got.CaptchaDetected {
		t.Error("captcha signal did not set captcha_detected")
	}
	got = DetectBlock(DetectInput{StatusCode: 403})
	if got.CaptchaDetected {
		t.Error("non-captcha signal set captcha_detected")
	}
}

func TestShouldTrigger(t *testing.T) {
	blocked := BlockDetection{Blocked: true, Signal: SignalCloudflare, Confidence: 0.95}

	tests := []struct {
		name        string
		detection   BlockDetection
		enabled     bool
		autoTrigger bool
		want        bool
	}{
		{"all on", blocked, true, true, true},
		{"ghost disabled", blocked, false, true, false},
		{"auto trigger off", blocked, true, false, false},
		{"not blocked", BlockDetection{}, true, true, false},
		{
			"low-confidence access denied is authn, not anti-bot",
			BlockDetection{Blocked: true, Signal: SignalAccessDenied, Confidence: 0.8},
			true, true, false,
		},
		{
			"high-confidence access denied triggers",
			BlockDetection{Blocked: true, Signal: SignalAccessDenied, Confidence: 0.9},
			true, true, true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldTrigger(tt.detection, tt.enabled, tt.autoTrigger); got != tt.want {
				t.Errorf("ShouldTrigger = %v, want %v", got, tt.want)
			}
		})
	}
}
