package ghost

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/gocrawl/internal/browser"
	"github.com/nextlevelbuilder/gocrawl/internal/markdown"
)

// The ghost pipeline reads page content out of a screenshot with a
// vision-capable LLM. It bypasses DOM-based anti-bot detection entirely:
// the content comes from the rendered pixels, not the DOM.

// VisionProvider is the vision slice of the LLM adapter contract.
type VisionProvider interface {
	Vision(ctx context.Context, image []byte, prompt string, detail string) (string, error)
	Name() string
}

// ExtractionPrompt instructs the model to transcribe visible text
// faithfully and to flag challenge pages instead of inventing content.
const ExtractionPrompt = `You are extracting readable text content from a screenshot of a web page.

The page may show an anti-bot challenge, CAPTCHA, or the actual content behind it.

Instructions:
1. If you can see actual page content (articles, text, data), extract ALL of it faithfully.
2. If you see an anti-bot challenge or CAPTCHA page, describe what you see and note that the content is blocked.
3. Preserve the structure: use headings, lists, and paragraphs as they appear visually.
4. Do NOT add commentary or analysis — just extract what you see on the page.
5. If there are tables, reproduce them in markdown table format.
6. If there are images with alt text or captions, note them in brackets like [Image: description].

Extract the content now:`

// Indicators that the extracted text describes a challenge page rather
// than content.
var blockedContentIndicators = []string{
	"anti-bot",
	"captcha",
	"challenge",
	"verify you are human",
	"access denied",
	"please complete the security check",
}

const domMarkdownMinChars = 200

// Result is the complete outcome of one ghost run.
type Result struct {
	Success        bool   `json:"success"`
	URL            string `json:"url"`
	Content        string `json:"content,omitempty"`
	RenderMode     string `json:"render_mode"` // "ghost" or "ghost_dom"
	BlockSignal    string `json:"block_signal,omitempty"`
	BlockReason    string `json:"block_reason,omitempty"`
	CaptureMS      int64  `json:"capture_ms"`
	ExtractionMS   int64  `json:"extraction_ms"`
	TotalMS        int64  `json:"total_ms"`
	Provider       string `json:"provider,omitempty"`
	BlockedContent bool   `json:"blocked_content"`
	Error          string `json:"error,omitempty"`
}

// Runner executes the ghost pipeline. Captures go through the browser pool
// when a slot is free, otherwise through a fresh session from the factory.
type Runner struct {
	pool      *browser.Pool
	factory   browser.Factory
	converter markdown.Converter
	maxWidth  int
	timeout   time.Duration
}

func NewRunner(pool *browser.Pool, factory browser.Factory, converter markdown.Converter, maxWidth int, timeout time.Duration) *Runner {
	if maxWidth <= 0 {
		maxWidth = 1280
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{pool: pool, factory: factory, converter: converter, maxWidth: maxWidth, timeout: timeout}
}

type capture struct {
	imageBytes []byte
	html       string
	captureMS  int64
}

// Run executes capture → (DOM-markdown shortcut) → vision extraction.
func (r *Runner) Run(ctx context.Context, url string, provider VisionProvider, prompt string, detection *BlockDetection) Result {
	start := time.Now()
	if prompt == "" {
		prompt = ExtractionPrompt
	}

	slog.Info("ghost pipeline activated", "url", url)

	cap, err := r.capture(ctx, url)
	if err != nil {
		return r.failed(url, detection, 0, 0, start, fmt.Sprintf("screenshot capture failed: %v", err))
	}

	// Prefer DOM markdown when the snapshot already carries usable,
	// non-blocked content — skips the vision spend entirely.
	if cap.html != "" && r.converter != nil {
		if md, err := r.converter.Convert(cap.html, url); err == nil {
			domDetection := DetectBlock(DetectInput{HTML: cap.html, Markdown: md})
			if !domDetection.Blocked && len(strings.TrimSpace(md)) > domMarkdownMinChars {
				return Result{
					Success:     true,
					URL:         url,
					Content:     md,
					RenderMode:  "ghost_dom",
					BlockSignal: detectionSignal(detection),
					BlockReason: detectionReason(detection),
					CaptureMS:   cap.captureMS,
					TotalMS:     time.Since(start).Milliseconds(),
					Provider:    "dom_markdown",
				}
			}
		}
	}

	if provider == nil {
		return r.failed(url, detection, cap.captureMS, 0, start, "no vision provider configured")
	}

	extractStart := time.Now()
	text, err := provider.Vision(ctx, cap.imageBytes, prompt, "high")
	extractionMS := time.Since(extractStart).Milliseconds()
	if err != nil {
		return r.failed(url, detection, cap.captureMS, extractionMS, start, fmt.Sprintf("vision extraction failed: %v", err))
	}

	blockedContent := false
	lower := strings.ToLower(text)
	for _, indicator := range blockedContentIndicators {
		if strings.Contains(lower, indicator) {
			blockedContent = true
			break
		}
	}

	total := time.Since(start).Milliseconds()
	slog.Info("ghost pipeline complete",
		"url", url, "chars", len(text),
		"total_ms", total, "capture_ms", cap.captureMS, "extract_ms", extractionMS)

	return Result{
		Success:        true,
		URL:            url,
		Content:        text,
		RenderMode:     "ghost",
		BlockSignal:    detectionSignal(detection),
		BlockReason:    detectionReason(detection),
		CaptureMS:      cap.captureMS,
		ExtractionMS:   extractionMS,
		TotalMS:        total,
		Provider:       provider.Name(),
		BlockedContent: blockedContent,
	}
}

// capture takes a full-page screenshot (network-idle plus a 2s settle) and
// grabs the HTML snapshot alongside it.
func (r *Runner) capture(ctx context.Context, url string) (*capture, error) {
	start := time.Now()

	session, release, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	navCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := session.Navigate(navCtx, url, "networkidle", 2*time.Second, ""); err != nil {
		return nil, err
	}

	imageBytes, err := session.Screenshot(true)
	if err != nil {
		return nil, err
	}
	imageBytes = downscale(imageBytes, r.maxWidth)

	html, err := session.HTML()
	if err != nil {
		html = ""
	}

	return &capture{
		imageBytes: imageBytes,
		html:       html,
		captureMS:  time.Since(start).Milliseconds(),
	}, nil
}

// session prefers a pooled slot; a saturated pool falls back to a fresh
// one-shot browser so ghost runs aren't starved by streaming leases.
func (r *Runner) session(ctx context.Context) (browser.Session, func(), error) {
	if r.pool != nil {
		if slot := r.pool.Acquire(ctx, "ghost-"+fmt.Sprint(time.Now().UnixNano())); slot != nil {
			return slot.Session, func() { r.pool.Release(ctx, slot) }, nil
		}
	}
	if r.factory == nil {
		return nil, nil, fmt.Errorf("no browser available for ghost capture")
	}
	session, err := r.factory(ctx)
	if err != nil {
		return nil, nil, err
	}
	return session, func() { session.Close() }, nil
}

func (r *Runner) failed(url string, detection *BlockDetection, captureMS, extractionMS int64, start time.Time, errMsg string) Result {
	return Result{
		Success:      false,
		URL:          url,
		RenderMode:   "ghost",
		BlockSignal:  detectionSignal(detection),
		BlockReason:  detectionReason(detection),
		CaptureMS:    captureMS,
		ExtractionMS: extractionMS,
		TotalMS:      time.Since(start).Milliseconds(),
		Error:        errMsg,
	}
}

// downscale re-encodes screenshots wider than maxWidth as JPEG to bound
// vision token cost. Undecodable images pass through untouched.
func downscale(imageBytes []byte, maxWidth int) []byte {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return imageBytes
	}
	if img.Bounds().Dx() <= maxWidth {
		return imageBytes
	}
	resized := imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return imageBytes
	}
	return buf.Bytes()
}

func detectionSignal(d *BlockDetection) string {
	if d == nil || d.Signal == "" {
		return ""
	}
	return string(d.Signal)
}

func detectionReason(d *BlockDetection) string {
	if d == nil {
		return ""
	}
	return d.Reason
}
