// Package raster normalizes arbitrary input formats into a single in-memory
// raster representation consumed by the rest of the pipeline. Raster inputs
// (PNG, JPEG, WebP, TIFF) are decoded directly; vector inputs (SVG) are
// rasterized at a fixed target resolution. Nothing in this package touches
// durable storage.
package raster

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"
	"image/draw"
	"image/png"
	"net/http"

	_ "image/jpeg"

	"github.com/Abraxas-365/craftable/errx"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Errors is the registry for format and decode failures.
var Errors = errx.NewRegistry("FORMAT")

var (
	ErrUnsupportedFormat = Errors.Register("UNSUPPORTED", errx.TypeValidation, http.StatusUnsupportedMediaType, "unsupported image format")
	ErrDecodeFailed      = Errors.Register("DECODE_FAILED", errx.TypeValidation, http.StatusBadRequest, "image bytes failed to decode")
)

// Format identifies the content type of a pipeline input.
type Format string

const (
	FormatUnknown Format = ""
	FormatPNG     Format = "image/png"
	FormatJPEG    Format = "image/jpeg"
	FormatWEBP    Format = "image/webp"
	FormatTIFF    Format = "image/tiff"
	FormatSVG     Format = "image/svg+xml"
)

// Image is the pipeline's owned pixel buffer. The backing NRGBA is mutated in
// place by preprocessing and treated as read-only afterwards; rendering stages
// must work on a Clone.
type Image struct {
	NRGBA *image.NRGBA
	// Channels records the logical channel count: 4 for color input, 1 once
	// preprocessing has collapsed the image to grayscale. The backing buffer
	// stays NRGBA either way.
	Channels int
}

// New wraps an NRGBA buffer as a pipeline image.
func New(img *image.NRGBA) *Image {
	return &Image{NRGBA: img, Channels: 4}
}

// FromImage converts any image.Image into an owned NRGBA buffer.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return New(dst)
}

func (im *Image) Width() int  { return im.NRGBA.Bounds().Dx() }
func (im *Image) Height() int { return im.NRGBA.Bounds().Dy() }

// Megapixels reports the image area in units of 10^6 pixels.
func (im *Image) Megapixels() float64 {
	return float64(im.Width()*im.Height()) / 1e6
}

// Clone returns a deep copy with its own pixel buffer.
func (im *Image) Clone() *Image {
	dst := image.NewNRGBA(im.NRGBA.Bounds())
	copy(dst.Pix, im.NRGBA.Pix)
	return &Image{NRGBA: dst, Channels: im.Channels}
}

// Fingerprint returns a hex-encoded SHA-256 over the image dimensions and
// pixel data. It is a pure function of the buffer contents, so identical
// images (common in bulk uploads) hash identically.
func (im *Image) Fingerprint() string {
	h := sha256.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(im.Width()))
	binary.BigEndian.PutUint32(dims[4:8], uint32(im.Height()))
	h.Write(dims[:])
	h.Write(im.NRGBA.Pix)
	return hex.EncodeToString(h.Sum(nil))
}

// EncodePNG serializes the image as PNG.
func (im *Image) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, im.NRGBA); err != nil {
		return nil, Errors.NewWithCause(ErrDecodeFailed, err)
	}
	return buf.Bytes(), nil
}

// Sniff inspects magic bytes and reports the input format, or FormatUnknown.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 8 && bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case len(data) >= 3 && bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return FormatJPEG
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWEBP
	case len(data) >= 4 && (bytes.HasPrefix(data, []byte("II*\x00")) || bytes.HasPrefix(data, []byte("MM\x00*"))):
		return FormatTIFF
	case looksLikeSVG(data):
		return FormatSVG
	default:
		return FormatUnknown
	}
}

func looksLikeSVG(data []byte) bool {
	head := bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf")
	if !bytes.HasPrefix(head, []byte("<")) {
		return false
	}
	// Only scan the prologue; an <svg> root appears early or not at all.
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("<svg"))
}

// Normalize decodes the input into an owned raster buffer. The declared format
// takes precedence; FormatUnknown triggers sniffing. Vector input is
// rasterized, everything else is decoded as-is.
func Normalize(data []byte, declared Format) (*Image, error) {
	format := declared
	if format == FormatUnknown {
		format = Sniff(data)
	}
	switch format {
	case FormatPNG, FormatJPEG, FormatWEBP, FormatTIFF:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, Errors.NewWithCause(ErrDecodeFailed, err).WithDetail("format", string(format))
		}
		return FromImage(img), nil
	case FormatSVG:
		return rasterizeSVG(data)
	default:
		return nil, Errors.New(ErrUnsupportedFormat).WithDetail("sniffed", string(format))
	}
}
