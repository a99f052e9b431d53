// Package ocr runs two-tier text recognition over preprocessed raster images:
// a fast primary recognizer detects and reads text lines, and a slower
// fallback recognizer re-reads only the lines whose confidence falls below a
// threshold. Recognizer implementations are pluggable; see the tesseract and
// llm subpackages.
package ocr

import (
	"context"
	"image"
	"math"
	"strings"
	"time"

	"github.com/mkarpel/redactkit/observability"
	"github.com/mkarpel/redactkit/raster"
)

// DefaultConfidenceThreshold gates fallback re-recognition: lines recognized
// below it are re-cropped and handed to the fallback recognizer.
const DefaultConfidenceThreshold = 0.70

// refineCropPad widens the re-crop a little so the fallback recognizer sees
// full ascenders and descenders.
const refineCropPad = 4.0

// Engine orchestrates the Detect -> Recognize -> Refine state machine.
// Engines are safe for concurrent use when their recognizers are; the shipped
// recognizers construct per-call backend clients.
type Engine struct {
	primary   Recognizer
	fallback  Recognizer
	threshold float64
	cache     *Cache
	logger    observability.Logger
	tracer    observability.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithFallback installs the confidence-gated fallback recognizer.
func WithFallback(r Recognizer) Option {
	return func(e *Engine) { e.fallback = r }
}

// WithThreshold overrides the fallback confidence threshold.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 && t <= 1 {
			e.threshold = t
		}
	}
}

// WithCache installs a shared fingerprint cache, letting duplicate images in a
// batch short-circuit recognition.
func WithCache(c *Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger installs a structured logger.
func WithLogger(l observability.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer installs a tracer for span instrumentation.
func WithTracer(t observability.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine builds a recognition engine around the primary recognizer.
func NewEngine(primary Recognizer, opts ...Option) *Engine {
	e := &Engine{
		primary:   primary,
		threshold: DefaultConfidenceThreshold,
		logger:    observability.NopLogger{},
		tracer:    observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recognize produces the OCR result for a preprocessed image. Zero detected
// regions is a successful empty result, not an error. If the primary
// recognizer fails outright, the whole image is retried once on the fallback
// before the failure is surfaced.
func (e *Engine) Recognize(ctx context.Context, img *raster.Image) (*Result, error) {
	start := time.Now()
	fingerprint := img.Fingerprint()

	if e.cache != nil {
		if cached, ok := e.cache.Get(fingerprint); ok {
			e.logger.Debug("ocr cache hit", observability.String("fingerprint", fingerprint[:12]))
			return cached, nil
		}
	}

	ctx, span := e.tracer.StartSpan(ctx, "ocr.recognize")
	defer span.Finish()

	blocks, err := e.primary.Recognize(ctx, img)
	if err != nil && e.fallback != nil {
		e.logger.Warn("primary recognizer failed, retrying with fallback",
			observability.String("primary", e.primary.Name()),
			observability.Error("error", err))
		blocks, err = e.fallback.Recognize(ctx, img)
	}
	if err != nil {
		span.SetError(err)
		return nil, Errors.NewWithCause(ErrBackendFailed, err).
			WithDetail("primary", e.primary.Name())
	}

	e.refine(ctx, img, blocks)

	result := assemble(blocks, fingerprint, time.Since(start))
	if e.cache != nil {
		e.cache.Put(fingerprint, result)
	}
	span.SetTag("blocks", len(result.Blocks))
	return result, nil
}

// refine re-recognizes low-confidence lines with the fallback recognizer,
// keeping whichever result claims higher confidence. Bounds and line numbers
// are detection properties and always kept from the primary pass.
func (e *Engine) refine(ctx context.Context, img *raster.Image, blocks []TextBlock) {
	if e.fallback == nil {
		return
	}
	for i := range blocks {
		b := &blocks[i]
		if b.Confidence >= e.threshold {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		text, conf, err := e.recognizeRegion(ctx, img, b.Bounds)
		if err != nil {
			e.logger.Warn("fallback re-recognition failed",
				observability.String("fallback", e.fallback.Name()),
				observability.Int("line", b.LineNumber),
				observability.Error("error", err))
			continue
		}
		if conf > b.Confidence && text != "" {
			e.logger.Debug("fallback replaced line",
				observability.Int("line", b.LineNumber),
				observability.Float64("primary_confidence", b.Confidence),
				observability.Float64("fallback_confidence", conf))
			b.Text = text
			b.Confidence = conf
		}
	}
}

// recognizeRegion crops the padded region out of the image and runs the
// fallback recognizer over the crop. The fallback may split the line further;
// its output is re-joined with spaces and averaged.
func (e *Engine) recognizeRegion(ctx context.Context, img *raster.Image, region Region) (string, float64, error) {
	clamped := region.Pad(refineCropPad).Clamp(float64(img.Width()), float64(img.Height()))
	if clamped.IsEmpty() {
		return "", 0, nil
	}
	rect := image.Rect(
		int(math.Floor(clamped.X)), int(math.Floor(clamped.Y)),
		int(math.Ceil(clamped.X+clamped.Width)), int(math.Ceil(clamped.Y+clamped.Height)),
	)
	crop := raster.FromImage(img.NRGBA.SubImage(rect))

	blocks, err := e.fallback.Recognize(ctx, crop)
	if err != nil {
		return "", 0, err
	}
	var parts []string
	var sum float64
	for _, b := range blocks {
		if b.Text == "" {
			continue
		}
		parts = append(parts, b.Text)
		sum += clamp01(b.Confidence)
	}
	if len(parts) == 0 {
		return "", 0, nil
	}
	return strings.Join(parts, " "), sum / float64(len(parts)), nil
}

// assemble joins non-empty block texts with newlines, records each block's
// offset into the joined text, and normalizes confidences.
func assemble(blocks []TextBlock, fingerprint string, elapsed time.Duration) *Result {
	var sb strings.Builder
	for i := range blocks {
		b := &blocks[i]
		b.Confidence = clamp01(b.Confidence)
		b.LineNumber = i
		if b.Text == "" {
			// Kept for debugging but excluded from the joined text.
			b.Confidence = 0
			b.Offset = -1
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		b.Offset = sb.Len()
		sb.WriteString(b.Text)
	}
	return &Result{
		FullText:       sb.String(),
		Blocks:         blocks,
		Fingerprint:    fingerprint,
		ProcessingTime: elapsed,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
