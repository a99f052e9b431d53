package preprocess

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	// orientThumb bounds the thumbnail used for angle estimation. Estimation
	// quality saturates well below full resolution.
	orientThumb = 512
	// orientationMargin is the score improvement required before committing to
	// a 90° rotation.
	orientationMargin = 1.30
	// skewMargin is the improvement required before applying sub-degree skew
	// correction.
	skewMargin = 1.05
	maxSkewDeg = 3.0
	skewStep   = 0.25
)

// estimateOrientation inspects text-line structure to determine a coarse
// rotation (0 or 90 degrees) and a fine skew angle in degrees, both suitable
// for imaging.Rotate. Horizontal text produces a high-variance row projection;
// rotated or skewed text flattens it.
//
// Projection profiles cannot distinguish a 180° flip (nor 90° from 270°);
// that requires glyph-level orientation cues. The recognizer's own page
// segmentation absorbs the remaining flip cases.
func estimateOrientation(src *image.NRGBA) (int, float64) {
	thumb := imaging.Grayscale(imaging.Fit(src, orientThumb, orientThumb, imaging.Box))

	upright := rowProfileVariance(thumb)
	sideways := rowProfileVariance(imaging.Rotate90(thumb))

	rotation := 0
	working := thumb
	if sideways > upright*orientationMargin {
		rotation = 90
		working = imaging.Rotate90(thumb)
	}

	base := rowProfileVariance(working)
	bestAngle := 0.0
	bestScore := base
	steps := int(2*maxSkewDeg/skewStep) + 1
	for i := 0; i < steps; i++ {
		angle := -maxSkewDeg + float64(i)*skewStep
		if angle == 0 {
			continue
		}
		score := rowProfileVariance(imaging.Rotate(working, angle, color.White))
		if score > bestScore {
			bestScore = score
			bestAngle = angle
		}
	}
	if bestScore < base*skewMargin {
		bestAngle = 0
	}
	return rotation, bestAngle
}

// rowProfileVariance binarizes the grayscale image against its mean luminance
// and returns the variance of per-row ink density.
func rowProfileVariance(img *image.NRGBA) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var total int64
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			total += int64(row[x*4])
		}
	}
	threshold := uint8(total / int64(w*h))

	densities := make([]float64, h)
	var mean float64
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		ink := 0
		for x := 0; x < w; x++ {
			if row[x*4] < threshold {
				ink++
			}
		}
		densities[y] = float64(ink) / float64(w)
		mean += densities[y]
	}
	mean /= float64(h)

	var variance float64
	for _, d := range densities {
		diff := d - mean
		variance += diff * diff
	}
	return variance / float64(h)
}
