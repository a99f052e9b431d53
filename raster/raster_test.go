package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/Abraxas-365/craftable/errx"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestSniff(t *testing.T) {
	var jpegBuf bytes.Buffer
	if err := jpeg.Encode(&jpegBuf, testImage(4, 4, color.White), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{"png", encodePNG(t, testImage(4, 4, color.White)), FormatPNG},
		{"jpeg", jpegBuf.Bytes(), FormatJPEG},
		{"tiff little endian", []byte("II*\x00rest"), FormatTIFF},
		{"tiff big endian", []byte("MM\x00*rest"), FormatTIFF},
		{"webp", append([]byte("RIFF\x00\x00\x00\x00"), []byte("WEBPVP8 ")...), FormatWEBP},
		{"svg", []byte("  <?xml version=\"1.0\"?><svg xmlns=\"http://www.w3.org/2000/svg\"/>"), FormatSVG},
		{"garbage", []byte("not an image"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Sniff(c.data); got != c.want {
				t.Fatalf("Sniff() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestNormalizePNG(t *testing.T) {
	data := encodePNG(t, testImage(10, 6, color.NRGBA{R: 200, G: 10, B: 10, A: 255}))
	img, err := Normalize(data, FormatUnknown)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if img.Width() != 10 || img.Height() != 6 {
		t.Fatalf("unexpected dimensions %dx%d", img.Width(), img.Height())
	}
	if img.Channels != 4 {
		t.Fatalf("Channels = %d, want 4", img.Channels)
	}
}

func TestNormalizeUnsupported(t *testing.T) {
	_, err := Normalize([]byte("%PDF-1.7 not supported here"), FormatUnknown)
	if err == nil {
		t.Fatalf("expected error for unsupported input")
	}
	if !errx.IsCode(err, ErrUnsupportedFormat) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeDecodeFailure(t *testing.T) {
	// Valid PNG magic, truncated body.
	data := []byte("\x89PNG\r\n\x1a\n___truncated___")
	_, err := Normalize(data, FormatUnknown)
	if err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNormalizeSVG(t *testing.T) {
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 50">
		<rect x="0" y="0" width="100" height="50" fill="black"/>
	</svg>`)
	img, err := Normalize(svg, FormatSVG)
	if err != nil {
		t.Fatalf("Normalize(svg) error = %v", err)
	}
	if img.Width() != 2048 || img.Height() != 1024 {
		t.Fatalf("unexpected raster dimensions %dx%d", img.Width(), img.Height())
	}
	r, g, b, _ := img.NRGBA.At(img.Width()/2, img.Height()/2).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Fatalf("expected black fill at center, got (%d,%d,%d)", r, g, b)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := FromImage(testImage(8, 8, color.White))
	b := FromImage(testImage(8, 8, color.White))
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("identical buffers must share a fingerprint")
	}
	b.NRGBA.Set(0, 0, color.NRGBA{R: 1, A: 255})
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("fingerprint must change with pixel contents")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := FromImage(testImage(4, 4, color.White))
	b := a.Clone()
	b.NRGBA.Set(0, 0, color.NRGBA{A: 255})
	if a.NRGBA.Pix[0] == b.NRGBA.Pix[0] {
		t.Fatalf("clone shares pixel storage with original")
	}
}
