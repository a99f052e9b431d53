package ocr

import (
	"context"
	"net/http"
	"time"

	"github.com/Abraxas-365/craftable/errx"

	"github.com/mkarpel/redactkit/raster"
)

// Errors is the registry for recognition failures.
var Errors = errx.NewRegistry("OCR")

// ErrBackendFailed marks a recognizer backend failure (model load, native
// crash). It is raised only after the fallback recognizer has also failed.
var ErrBackendFailed = Errors.Register("BACKEND_FAILED", errx.TypeExternal, http.StatusBadGateway, "recognition backend failed")

// Region describes a rectangular area in pixel coordinates with the origin in
// the upper-left corner of the image.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsEmpty reports whether the region has non-positive dimensions.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Pad expands the region outward by p on every side. Negative results are not
// clamped; use Clamp for that.
func (r Region) Pad(p float64) Region {
	return Region{X: r.X - p, Y: r.Y - p, Width: r.Width + 2*p, Height: r.Height + 2*p}
}

// Clamp restricts the region to the [0,w)x[0,h) pixel space, shrinking it as
// needed. A region entirely outside comes back empty.
func (r Region) Clamp(w, h float64) Region {
	x1 := maxF(r.X, 0)
	y1 := maxF(r.Y, 0)
	x2 := minF(r.X+r.Width, w)
	y2 := minF(r.Y+r.Height, h)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return Region{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Intersect returns the overlap of r and o; no overlap yields an empty region.
func (r Region) Intersect(o Region) Region {
	x1 := maxF(r.X, o.X)
	y1 := maxF(r.Y, o.Y)
	x2 := minF(r.X+r.Width, o.X+o.Width)
	y2 := minF(r.Y+r.Height, o.Y+o.Height)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return Region{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Contains reports whether o lies fully inside r.
func (r Region) Contains(o Region) bool {
	return o.X >= r.X && o.Y >= r.Y &&
		o.X+o.Width <= r.X+r.Width && o.Y+o.Height <= r.Y+r.Height
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// TextBlock is a single recognized text line in the preprocessed image's
// coordinate space. Blocks are ordered by detection order (reading order).
type TextBlock struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Bounds     Region  `json:"bbox"`
	LineNumber int     `json:"line_number"`
	// Offset is the byte offset of Text within Result.FullText, or -1 for
	// blocks excluded from FullText (empty recognitions kept for debugging).
	Offset int `json:"offset"`
}

// Result is the immutable output of recognition for one image. Results are
// shared across batch workers via the fingerprint cache and must not be
// mutated after construction.
type Result struct {
	FullText       string        `json:"full_text"`
	Blocks         []TextBlock   `json:"text_blocks"`
	Fingerprint    string        `json:"image_fingerprint"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Recognizer is the provider contract: one preprocessed image in, ordered text
// lines out. Implementations must be safe for concurrent use or construct
// per-call backend clients.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, img *raster.Image) ([]TextBlock, error)
}
