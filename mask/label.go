package mask

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/mkarpel/redactkit/pii"
)

const (
	labelMinSize = 10
	labelMaxSize = 24
	// labelHeightFraction scales the font against the box height.
	labelHeightFraction = 0.6
)

var (
	labelFontOnce sync.Once
	labelFont     *sfnt.Font
	labelFontErr  error

	faceMu    sync.Mutex
	faceCache = map[int]font.Face{}
)

func labelFace(size int) (font.Face, error) {
	labelFontOnce.Do(func() {
		labelFont, labelFontErr = opentype.Parse(goregular.TTF)
	})
	if labelFontErr != nil {
		return nil, labelFontErr
	}
	faceMu.Lock()
	defer faceMu.Unlock()
	if face, ok := faceCache[size]; ok {
		return face, nil
	}
	face, err := opentype.NewFace(labelFont, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	faceCache[size] = face
	return face, nil
}

// displayValue picks the text shown in a hash label: the service-provided
// masked value when it actually differs from the raw value, otherwise a
// synthesized redaction that keeps the last four characters. Values of four
// characters or fewer are replaced entirely.
func displayValue(raw, masked string) string {
	if masked != "" && masked != raw {
		return masked
	}
	runes := []rune(raw)
	if len(runes) <= 4 {
		return strings.Repeat("X", len(runes))
	}
	return strings.Repeat("X", len(runes)-4) + string(runes[len(runes)-4:])
}

// labelText composes the "{TYPE}: {DISPLAY_VALUE}" string drawn into a hash
// box.
func labelText(matchType, raw, masked string) string {
	return fmt.Sprintf("%s: %s", matchType, displayValue(raw, masked))
}

// renderHash fills the box with the background color and draws the label
// centered both ways. The font size adapts to the box height, clamped to
// [10, 24]. Labels wider than the box are still drawn in full; a known edge
// case, deliberately not truncated.
func (r *Renderer) renderHash(canvas *image.NRGBA, rect image.Rectangle, m pii.Match, opts Options) error {
	draw.Draw(canvas, rect, image.NewUniform(opts.HashBackground), image.Point{}, draw.Src)

	size := int(math.Round(float64(rect.Dy()) * labelHeightFraction))
	if size < labelMinSize {
		size = labelMinSize
	}
	if size > labelMaxSize {
		size = labelMaxSize
	}
	face, err := labelFace(size)
	if err != nil {
		return err
	}

	label := labelText(m.Type, m.RawValue, m.MaskedValue)
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(opts.HashText),
		Face: face,
	}
	metrics := face.Metrics()
	textW := d.MeasureString(label).Ceil()
	textH := (metrics.Ascent + metrics.Descent).Ceil()

	textX := rect.Min.X + (rect.Dx()-textW)/2
	textY := rect.Min.Y + (rect.Dy()-textH)/2
	d.Dot = fixed.P(textX, textY+metrics.Ascent.Ceil())
	d.DrawString(label)
	return nil
}
