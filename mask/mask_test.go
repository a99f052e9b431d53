package mask

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/mkarpel/redactkit/ocr"
	"github.com/mkarpel/redactkit/pii"
	"github.com/mkarpel/redactkit/raster"
)

// gradientImage produces deterministic non-uniform pixel data so every
// strategy visibly alters the pixels it touches.
func gradientImage(w, h int) *raster.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*7 + y*13) % 256)
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: 255 - v, B: v / 2, A: 255})
		}
	}
	return raster.New(img)
}

func match(t string, bounds ocr.Region) pii.Match {
	return pii.Match{Type: t, RawValue: "raw-value-1234", Bounds: bounds, Confidence: 0.9}
}

// samePixels compares two buffers inside (inside=true) or outside the rect.
func samePixels(a, b *image.NRGBA, rect image.Rectangle, inside bool) bool {
	bounds := a.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			p := image.Pt(x, y)
			if p.In(rect) != inside {
				continue
			}
			ai := a.PixOffset(x, y)
			if !bytes.Equal(a.Pix[ai:ai+4], b.Pix[b.PixOffset(x, y):b.PixOffset(x, y)+4]) {
				return false
			}
		}
	}
	return true
}

func TestRenderBlackout(t *testing.T) {
	src := gradientImage(100, 80)
	before := append([]byte(nil), src.NRGBA.Pix...)
	m := match("SSN", ocr.Region{X: 20, Y: 20, Width: 30, Height: 10})
	opts := DefaultOptions(TypeBlackout)
	opts.Padding = 2

	out, warnings, err := NewRenderer(nil).Render(src, []pii.Match{m}, opts)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	if !bytes.Equal(src.NRGBA.Pix, before) {
		t.Fatalf("source image was mutated")
	}

	rect := image.Rect(18, 18, 52, 32)
	for _, p := range []image.Point{{18, 18}, {35, 25}, {51, 31}} {
		i := out.NRGBA.PixOffset(p.X, p.Y)
		if out.NRGBA.Pix[i] != 0 || out.NRGBA.Pix[i+1] != 0 || out.NRGBA.Pix[i+2] != 0 {
			t.Fatalf("pixel %v not blacked out", p)
		}
	}
	if !samePixels(out.NRGBA, src.NRGBA, rect, false) {
		t.Fatalf("pixels outside the expanded box must be untouched")
	}
}

func TestRenderSelectiveMasking(t *testing.T) {
	src := gradientImage(120, 60)
	a := match("A", ocr.Region{X: 10, Y: 10, Width: 20, Height: 10})
	b := match("B", ocr.Region{X: 70, Y: 30, Width: 20, Height: 10})
	opts := DefaultOptions(TypeBlackout)
	opts.SelectedTypes = []string{"A"}

	out, _, err := NewRenderer(nil).Render(src, []pii.Match{a, b}, opts)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	aRect := image.Rect(10, 10, 30, 20)
	bRect := image.Rect(70, 30, 90, 40)
	if samePixels(out.NRGBA, src.NRGBA, aRect, true) {
		t.Fatalf("selected type A must be masked")
	}
	if !samePixels(out.NRGBA, src.NRGBA, bRect, true) {
		t.Fatalf("unselected type B must stay pixel-identical")
	}
}

func TestRenderEmptySelectionMasksEverything(t *testing.T) {
	src := gradientImage(120, 60)
	a := match("A", ocr.Region{X: 10, Y: 10, Width: 20, Height: 10})
	b := match("B", ocr.Region{X: 70, Y: 30, Width: 20, Height: 10})

	out, _, err := NewRenderer(nil).Render(src, []pii.Match{a, b}, DefaultOptions(TypeBlackout))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, rect := range []image.Rectangle{image.Rect(10, 10, 30, 20), image.Rect(70, 30, 90, 40)} {
		if samePixels(out.NRGBA, src.NRGBA, rect, true) {
			t.Fatalf("region %v must be masked when selection is empty", rect)
		}
	}
}

func TestRenderBlurConfined(t *testing.T) {
	src := gradientImage(100, 100)
	m := match("EMAIL", ocr.Region{X: 30, Y: 30, Width: 40, Height: 20})

	out, _, err := NewRenderer(nil).Render(src, []pii.Match{m}, DefaultOptions(TypeBlur))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	rect := image.Rect(30, 30, 70, 50)
	if samePixels(out.NRGBA, src.NRGBA, rect, true) {
		t.Fatalf("blur did not alter the region")
	}
	if !samePixels(out.NRGBA, src.NRGBA, rect, false) {
		t.Fatalf("blur leaked outside the region")
	}
}

func TestRenderPixelateConfined(t *testing.T) {
	src := gradientImage(100, 100)
	m := match("PAN", ocr.Region{X: 10, Y: 40, Width: 48, Height: 24})
	opts := DefaultOptions(TypePixelate)
	opts.PixelateBlockSize = 8

	out, _, err := NewRenderer(nil).Render(src, []pii.Match{m}, opts)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	rect := image.Rect(10, 40, 58, 64)
	if samePixels(out.NRGBA, src.NRGBA, rect, true) {
		t.Fatalf("pixelate did not alter the region")
	}
	if !samePixels(out.NRGBA, src.NRGBA, rect, false) {
		t.Fatalf("pixelate leaked outside the region")
	}
}

func TestRenderHashFillsAndLabels(t *testing.T) {
	src := gradientImage(440, 120)
	m := pii.Match{
		Type:     "AADHAAR",
		RawValue: "1234-5678-9012",
		Bounds:   ocr.Region{X: 20, Y: 30, Width: 400, Height: 40},
	}

	out, warnings, err := NewRenderer(nil).Render(src, []pii.Match{m}, DefaultOptions(TypeHash))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}

	// Corners of the box are background-filled; the centered label darkens
	// at least some pixels.
	i := out.NRGBA.PixOffset(21, 31)
	if out.NRGBA.Pix[i] != 255 || out.NRGBA.Pix[i+1] != 255 || out.NRGBA.Pix[i+2] != 255 {
		t.Fatalf("hash box corner not filled with background")
	}
	dark := 0
	rect := image.Rect(20, 30, 420, 70)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			j := out.NRGBA.PixOffset(x, y)
			if out.NRGBA.Pix[j] < 128 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Fatalf("no label pixels drawn inside the hash box")
	}
	if !samePixels(out.NRGBA, src.NRGBA, rect, false) {
		t.Fatalf("hash rendering leaked outside the box")
	}
}

func TestRenderDegenerateBoxWarns(t *testing.T) {
	src := gradientImage(50, 50)
	m := match("SSN", ocr.Region{X: 500, Y: 500, Width: 10, Height: 10})

	out, warnings, err := NewRenderer(nil).Render(src, []pii.Match{m}, DefaultOptions(TypeBlackout))
	if err != nil {
		t.Fatalf("degenerate box must not fail the render: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one partial-masking warning, got %d", len(warnings))
	}
	if warnings[0].MatchType != "SSN" {
		t.Fatalf("warning must identify the match: %+v", warnings[0])
	}
	if !bytes.Equal(out.NRGBA.Pix, src.NRGBA.Pix) {
		t.Fatalf("skipped match must leave the image unchanged")
	}
}

func TestRenderRejectsUnknownType(t *testing.T) {
	src := gradientImage(10, 10)
	opts := DefaultOptions(TypeBlackout)
	opts.Type = "sparkle"
	if _, _, err := NewRenderer(nil).Render(src, nil, opts); err == nil {
		t.Fatalf("expected error for unknown mask type")
	}
}

func TestExpandBoxClamping(t *testing.T) {
	rect, ok := expandBox(ocr.Region{X: 2, Y: 3, Width: 10, Height: 5}, 4, 100, 50)
	if !ok {
		t.Fatalf("expected valid box")
	}
	want := image.Rect(0, 0, 16, 12)
	if rect != want {
		t.Fatalf("expandBox = %v, want %v", rect, want)
	}
	if _, ok := expandBox(ocr.Region{X: 200, Y: 200, Width: 5, Height: 5}, 0, 100, 50); ok {
		t.Fatalf("box outside the image must be rejected")
	}
}
