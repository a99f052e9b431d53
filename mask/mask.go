// Package mask renders redacted copies of raster images. Selected PII
// regions are obscured with one of four strategies (blackout, hash label,
// gaussian blur, or pixelation) while every other pixel is preserved
// byte-identical to the source. The source buffer is never mutated; rendering
// always produces a fresh image.
package mask

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"net/http"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/mkarpel/redactkit/observability"
	"github.com/mkarpel/redactkit/ocr"
	"github.com/mkarpel/redactkit/pii"
	"github.com/mkarpel/redactkit/raster"
)

// Errors is the registry for render failures.
var Errors = errx.NewRegistry("MASK")

// ErrRenderFailed marks an unrecoverable rendering failure. Per-match
// problems degrade to Warnings instead.
var ErrRenderFailed = Errors.Register("RENDER_FAILED", errx.TypeInternal, http.StatusInternalServerError, "mask rendering failed")

// Type selects the visual redaction strategy.
type Type string

const (
	TypeBlackout Type = "blackout"
	TypeHash     Type = "hash"
	TypeBlur     Type = "blur"
	TypePixelate Type = "pixelate"
)

// ParseType validates a strategy name.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeBlackout, TypeHash, TypeBlur, TypePixelate:
		return Type(s), nil
	default:
		return "", Errors.NewWithMessage(ErrRenderFailed, fmt.Sprintf("unknown mask type %q", s))
	}
}

// Options configures one render invocation.
type Options struct {
	Type Type `json:"mask_type"`
	// SelectedTypes limits masking to the listed PII types; empty means all.
	SelectedTypes []string `json:"selected_pii_types"`
	// Padding expands every match box outward by this many pixels.
	Padding int `json:"padding"`

	HashBackground color.NRGBA `json:"hash_background_color"`
	HashText       color.NRGBA `json:"hash_text_color"`
	BlackoutColor  color.NRGBA `json:"blackout_color"`

	BlurRadius        int `json:"blur_radius"`
	PixelateBlockSize int `json:"pixelate_block_size"`
}

// DefaultOptions returns the defaults for a strategy: black blackout, white
// hash background with black text, blur radius 8, pixelate block size 12.
func DefaultOptions(t Type) Options {
	return Options{
		Type:              t,
		HashBackground:    color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		HashText:          color.NRGBA{A: 255},
		BlackoutColor:     color.NRGBA{A: 255},
		BlurRadius:        8,
		PixelateBlockSize: 12,
	}
}

func (o *Options) normalize() {
	if o.BlurRadius <= 0 {
		o.BlurRadius = 8
	}
	if o.PixelateBlockSize <= 0 {
		o.PixelateBlockSize = 12
	}
	if o.Padding < 0 {
		o.Padding = 0
	}
	var zero color.NRGBA
	if o.HashBackground == zero {
		o.HashBackground = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}
	if o.HashText == zero {
		o.HashText = color.NRGBA{A: 255}
	}
	if o.BlackoutColor == zero {
		o.BlackoutColor = color.NRGBA{A: 255}
	}
}

// Warning reports a match that was skipped or only partially rendered.
// Leaving PII unmasked is privacy-relevant, so warnings must reach the
// caller, not just the log.
type Warning struct {
	MatchType string `json:"match_type"`
	StartPos  int    `json:"start_pos"`
	EndPos    int    `json:"end_pos"`
	Reason    string `json:"reason"`
}

// Renderer applies masking strategies. Safe for concurrent use.
type Renderer struct {
	logger observability.Logger
}

// NewRenderer builds a renderer.
func NewRenderer(logger observability.Logger) *Renderer {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Renderer{logger: logger}
}

// Render produces a redacted copy of img. Matches are processed in the order
// given, which makes overlap resolution deterministic: later draws win inside
// the overlap, and both represent redacted content. Unselected matches leave
// their pixels untouched.
func (r *Renderer) Render(img *raster.Image, matches []pii.Match, opts Options) (*raster.Image, []Warning, error) {
	if img == nil || img.NRGBA == nil {
		return nil, nil, Errors.NewWithMessage(ErrRenderFailed, "nil source image")
	}
	opts.normalize()
	if _, err := ParseType(string(opts.Type)); err != nil {
		return nil, nil, err
	}

	out := img.Clone()
	canvas := out.NRGBA
	w, h := out.Width(), out.Height()

	selected := make(map[string]bool, len(opts.SelectedTypes))
	for _, t := range opts.SelectedTypes {
		selected[t] = true
	}

	var warnings []Warning
	for _, m := range matches {
		if len(selected) > 0 && !selected[m.Type] {
			continue
		}
		rect, ok := expandBox(m.Bounds, opts.Padding, w, h)
		if !ok {
			r.logger.Warn("skipping match with degenerate box",
				observability.String("type", m.Type),
				observability.Int("start", m.StartPos))
			warnings = append(warnings, Warning{
				MatchType: m.Type,
				StartPos:  m.StartPos,
				EndPos:    m.EndPos,
				Reason:    "degenerate box after clamping; match left unmasked",
			})
			continue
		}

		switch opts.Type {
		case TypeBlackout:
			draw.Draw(canvas, rect, image.NewUniform(opts.BlackoutColor), image.Point{}, draw.Src)
		case TypeHash:
			if err := r.renderHash(canvas, rect, m, opts); err != nil {
				r.logger.Warn("hash label failed",
					observability.String("type", m.Type),
					observability.Error("error", err))
				warnings = append(warnings, Warning{
					MatchType: m.Type,
					StartPos:  m.StartPos,
					EndPos:    m.EndPos,
					Reason:    "label rendering failed; region filled without text",
				})
			}
		case TypeBlur:
			blurRegion(canvas, rect, float64(opts.BlurRadius))
		case TypePixelate:
			pixelateRegion(canvas, rect, opts.PixelateBlockSize)
		}
	}
	return out, warnings, nil
}

// expandBox applies padding and clamps to the image:
// x1 = max(0, x-p), y1 = max(0, y-p),
// x2 = min(w, x+width+p), y2 = min(h, y+height+p).
func expandBox(b ocr.Region, padding, w, h int) (image.Rectangle, bool) {
	x1 := int(math.Floor(b.X)) - padding
	y1 := int(math.Floor(b.Y)) - padding
	x2 := int(math.Ceil(b.X+b.Width)) + padding
	y2 := int(math.Ceil(b.Y+b.Height)) + padding
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > w {
		x2 = w
	}
	if y2 > h {
		y2 = h
	}
	if x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}, false
	}
	return image.Rect(x1, y1, x2, y2), true
}

// blurRegion applies a gaussian blur confined to rect.
func blurRegion(canvas *image.NRGBA, rect image.Rectangle, sigma float64) {
	sub := imaging.Crop(canvas, rect)
	blurred := imaging.Blur(sub, sigma)
	draw.Draw(canvas, rect, blurred, image.Point{}, draw.Src)
}

// pixelateRegion downscales rect by the block size and scales it back up with
// nearest-neighbor interpolation, producing the mosaic effect.
func pixelateRegion(canvas *image.NRGBA, rect image.Rectangle, blockSize int) {
	dw := rect.Dx() / blockSize
	dh := rect.Dy() / blockSize
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	small := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), canvas, rect, xdraw.Src, nil)
	xdraw.NearestNeighbor.Scale(canvas, rect, small, small.Bounds(), xdraw.Src, nil)
}
