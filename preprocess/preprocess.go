// Package preprocess applies geometric and photometric correction ahead of
// recognition: orientation/deskew, grayscale conversion with denoising, local
// contrast equalization, and a resize ceiling. Every step is best-effort: a
// step that fails or would degrade quality is skipped with a warning, never
// aborting the pipeline.
package preprocess

import (
	"context"
	"fmt"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/mkarpel/redactkit/observability"
	"github.com/mkarpel/redactkit/raster"
)

// DefaultMaxDimension is the ceiling applied to either image dimension before
// recognition. OCR accuracy degrades past this, runtime degrades worse.
const DefaultMaxDimension = 3000

// Options control which corrections run and their bounds.
type Options struct {
	// MaxDimension caps the longer image side; zero means DefaultMaxDimension.
	MaxDimension int
	// DisableDeskew skips orientation and fine-skew correction.
	DisableDeskew bool
	// DisableDenoise skips grayscale median denoising.
	DisableDenoise bool
	// DisableContrast skips local adaptive histogram equalization.
	DisableContrast bool
}

// StepResult records whether a single correction ran.
type StepResult struct {
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// Report lists the outcome of every preprocessing step in application order.
type Report struct {
	Steps []StepResult `json:"steps"`
}

func (r *Report) add(name string, applied bool, reason string) {
	r.Steps = append(r.Steps, StepResult{Name: name, Applied: applied, Reason: reason})
}

// Preprocessor mutates raster images in place to maximize downstream OCR
// fidelity.
type Preprocessor struct {
	opts   Options
	logger observability.Logger
}

// New returns a preprocessor with the given options. A nil-safe NopLogger is
// installed when logger is nil.
func New(opts Options, logger observability.Logger) *Preprocessor {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Preprocessor{opts: opts, logger: logger}
}

type step struct {
	name string
	skip bool
	run  func(*raster.Image) (bool, string, error)
}

// Apply runs the correction chain on img, mutating it in place, and returns a
// report of applied and skipped steps. Apply never fails: a step error
// downgrades to a skip.
func (p *Preprocessor) Apply(ctx context.Context, img *raster.Image) *Report {
	report := &Report{}
	steps := []step{
		{name: "orientation", skip: p.opts.DisableDeskew, run: p.correctOrientation},
		{name: "grayscale_denoise", skip: p.opts.DisableDenoise, run: p.grayscaleDenoise},
		{name: "contrast", skip: p.opts.DisableContrast, run: p.equalizeContrast},
		{name: "resize_ceiling", run: p.resizeCeiling},
	}
	for _, s := range steps {
		if ctx.Err() != nil {
			report.add(s.name, false, "canceled")
			continue
		}
		if s.skip {
			report.add(s.name, false, "disabled")
			continue
		}
		applied, reason, err := runStep(s, img)
		if err != nil {
			p.logger.Warn("preprocess step failed, skipping",
				observability.String("step", s.name),
				observability.Error("error", err))
			report.add(s.name, false, err.Error())
			continue
		}
		report.add(s.name, applied, reason)
	}
	return report
}

// runStep isolates panics from a corrupt buffer so a single bad step cannot
// take down the whole pipeline.
func runStep(s step, img *raster.Image) (applied bool, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			applied = false
			err = fmt.Errorf("step %s panicked: %v", s.name, r)
		}
	}()
	return s.run(img)
}

func (p *Preprocessor) correctOrientation(img *raster.Image) (bool, string, error) {
	rotation, skew := estimateOrientation(img.NRGBA)
	if rotation == 0 && skew == 0 {
		return false, "already upright", nil
	}
	out := img.NRGBA
	switch rotation {
	case 90:
		out = imaging.Rotate90(out)
	case 180:
		out = imaging.Rotate180(out)
	case 270:
		out = imaging.Rotate270(out)
	}
	if skew != 0 {
		out = imaging.Rotate(out, skew, color.White)
	}
	img.NRGBA = out
	return true, fmt.Sprintf("rotated %d°, deskewed %.2f°", rotation, skew), nil
}

func (p *Preprocessor) grayscaleDenoise(img *raster.Image) (bool, string, error) {
	gray := imaging.Grayscale(img.NRGBA)
	img.NRGBA = medianDenoise(gray)
	img.Channels = 1
	return true, "", nil
}

func (p *Preprocessor) equalizeContrast(img *raster.Image) (bool, string, error) {
	if img.Channels != 1 {
		// CLAHE operates on luminance; collapse first if denoise was disabled.
		img.NRGBA = imaging.Grayscale(img.NRGBA)
		img.Channels = 1
	}
	if spread := luminanceSpread(img.NRGBA); spread > 72 {
		return false, fmt.Sprintf("contrast already sufficient (spread %.0f)", spread), nil
	}
	img.NRGBA = clahe(img.NRGBA, claheTiles, claheClipLimit)
	return true, "", nil
}

func (p *Preprocessor) resizeCeiling(img *raster.Image) (bool, string, error) {
	w, h := img.Width(), img.Height()
	max := p.opts.MaxDimension
	if w <= max && h <= max {
		return false, "within ceiling", nil
	}
	img.NRGBA = imaging.Fit(img.NRGBA, max, max, imaging.Lanczos)
	return true, fmt.Sprintf("%dx%d -> %dx%d", w, h, img.Width(), img.Height()), nil
}
