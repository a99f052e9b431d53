package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// svgTargetDim is the fixed rasterization target: the longer side of the
// rendered bitmap. OCR accuracy flattens out beyond this scale while runtime
// keeps climbing.
const svgTargetDim = 2048

func rasterizeSVG(data []byte) (*Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, Errors.NewWithCause(ErrDecodeFailed, err).WithDetail("format", string(FormatSVG))
	}
	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	if vw <= 0 || vh <= 0 {
		return nil, Errors.NewWithMessage(ErrDecodeFailed, "svg has an empty viewBox")
	}

	scale := svgTargetDim / math.Max(vw, vh)
	w := int(math.Round(vw * scale))
	h := int(math.Round(vh * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	// White backdrop: transparent regions would otherwise rasterize to black
	// and swallow dark strokes.
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)

	return New(dst), nil
}
