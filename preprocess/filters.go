package preprocess

import (
	"image"
	"math"
)

const (
	claheTiles     = 8
	claheClipLimit = 3.0
)

// medianDenoise applies a 3x3 median filter to a grayscale NRGBA buffer. The
// corpus image libraries ship gaussian blur only; a median kernel removes
// salt-and-pepper scan noise without softening glyph edges the way blur does.
func medianDenoise(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	copy(out.Pix, img.Pix)
	if w < 3 || h < 3 {
		return out
	}

	var window [9]uint8
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := 0
			for dy := -1; dy <= 1; dy++ {
				row := img.Pix[(y+dy)*img.Stride:]
				for dx := -1; dx <= 1; dx++ {
					window[i] = row[(x+dx)*4]
					i++
				}
			}
			m := median9(window)
			o := y*out.Stride + x*4
			out.Pix[o] = m
			out.Pix[o+1] = m
			out.Pix[o+2] = m
			out.Pix[o+3] = 255
		}
	}
	return out
}

func median9(w [9]uint8) uint8 {
	// Insertion sort; nine elements.
	for i := 1; i < len(w); i++ {
		v := w[i]
		j := i - 1
		for j >= 0 && w[j] > v {
			w[j+1] = w[j]
			j--
		}
		w[j+1] = v
	}
	return w[4]
}

// luminanceSpread returns the standard deviation of gray levels, used to skip
// equalization on images that already have usable contrast.
func luminanceSpread(img *image.NRGBA) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	n := w * h
	if n == 0 {
		return 0
	}
	var sum, sumSq float64
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			v := float64(row[x*4])
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / float64(n)
	return math.Sqrt(sumSq/float64(n) - mean*mean)
}

// clahe performs contrast-limited adaptive histogram equalization on a
// grayscale NRGBA buffer: per-tile clipped histograms are turned into lookup
// tables and blended bilinearly between tile centers, normalizing uneven
// lighting without amplifying noise past the clip limit.
func clahe(img *image.NRGBA, tiles int, clipLimit float64) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 || tiles < 1 {
		return img
	}
	tileW := (w + tiles - 1) / tiles
	tileH := (h + tiles - 1) / tiles
	if tileW < 1 {
		tileW = 1
	}
	if tileH < 1 {
		tileH = 1
	}
	tilesX := (w + tileW - 1) / tileW
	tilesY := (h + tileH - 1) / tileH

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := minInt(x0+tileW, w), minInt(y0+tileH, h)
			luts[ty*tilesX+tx] = tileLUT(img, x0, y0, x1, y1, clipLimit)
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		// Position relative to tile centers.
		fy := (float64(y)-float64(tileH)/2 + 0.5) / float64(tileH)
		ty0 := int(math.Floor(fy))
		wy := fy - float64(ty0)
		ty1 := ty0 + 1
		ty0 = clampInt(ty0, 0, tilesY-1)
		ty1 = clampInt(ty1, 0, tilesY-1)

		srcRow := img.Pix[y*img.Stride:]
		dstRow := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			fx := (float64(x)-float64(tileW)/2 + 0.5) / float64(tileW)
			tx0 := int(math.Floor(fx))
			wx := fx - float64(tx0)
			tx1 := tx0 + 1
			tx0 = clampInt(tx0, 0, tilesX-1)
			tx1 = clampInt(tx1, 0, tilesX-1)

			v := srcRow[x*4]
			tl := float64(luts[ty0*tilesX+tx0][v])
			tr := float64(luts[ty0*tilesX+tx1][v])
			bl := float64(luts[ty1*tilesX+tx0][v])
			br := float64(luts[ty1*tilesX+tx1][v])
			top := tl + (tr-tl)*wx
			bot := bl + (br-bl)*wx
			g := uint8(math.Round(top + (bot-top)*wy))

			o := x * 4
			dstRow[o] = g
			dstRow[o+1] = g
			dstRow[o+2] = g
			dstRow[o+3] = 255
		}
	}
	return out
}

func tileLUT(img *image.NRGBA, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	n := 0
	for y := y0; y < y1; y++ {
		row := img.Pix[y*img.Stride:]
		for x := x0; x < x1; x++ {
			hist[row[x*4]]++
			n++
		}
	}
	var lut [256]uint8
	if n == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}

	// Clip and redistribute the excess uniformly.
	limit := int(clipLimit * float64(n) / 256)
	if limit < 1 {
		limit = 1
	}
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	share := excess / 256
	rem := excess % 256
	for i := range hist {
		hist[i] += share
		if i < rem {
			hist[i]++
		}
	}

	cdf := 0
	for i := range hist {
		cdf += hist[i]
		lut[i] = uint8(math.Round(255 * float64(cdf) / float64(n)))
	}
	return lut
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
