// Package pipeline wires the per-image stages together: normalization is the
// caller's (or the batch orchestrator's) job, then preprocessing, two-tier
// text recognition, PII annotation, and mask rendering run here. Pipeline
// implements batch.Processor.
package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Abraxas-365/craftable/errx"

	"github.com/mkarpel/redactkit/batch"
	"github.com/mkarpel/redactkit/mask"
	"github.com/mkarpel/redactkit/observability"
	"github.com/mkarpel/redactkit/ocr"
	"github.com/mkarpel/redactkit/ocr/llm"
	"github.com/mkarpel/redactkit/ocr/tesseract"
	"github.com/mkarpel/redactkit/pii"
	"github.com/mkarpel/redactkit/preprocess"
	"github.com/mkarpel/redactkit/raster"
)

// Errors is the registry for assembly failures.
var Errors = errx.NewRegistry("PIPELINE")

// ErrBadConfig covers unusable configuration discovered at assembly time.
var ErrBadConfig = Errors.Register("BAD_CONFIG", errx.TypeValidation, http.StatusBadRequest, "invalid pipeline configuration")

// Pipeline runs one image end to end. Safe for concurrent use; the stages
// share nothing mutable but the recognition cache, which locks internally.
type Pipeline struct {
	pre       *preprocess.Preprocessor
	engine    *ocr.Engine
	annotator *pii.Annotator
	renderer  *mask.Renderer
	logger    observability.Logger
	tracer    observability.Tracer
}

// Option overrides assembled stages, mostly for tests.
type Option func(*assembly)

type assembly struct {
	service  pii.Service
	primary  ocr.Recognizer
	fallback ocr.Recognizer
	logger   observability.Logger
	tracer   observability.Tracer
}

// WithService substitutes the PII matching backend.
func WithService(s pii.Service) Option {
	return func(a *assembly) { a.service = s }
}

// WithRecognizers substitutes the OCR engines. A nil fallback disables
// low-confidence re-reads.
func WithRecognizers(primary, fallback ocr.Recognizer) Option {
	return func(a *assembly) {
		a.primary = primary
		a.fallback = fallback
	}
}

// WithLogger attaches a logger to every stage.
func WithLogger(l observability.Logger) Option {
	return func(a *assembly) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracer attaches a tracer.
func WithTracer(t observability.Tracer) Option {
	return func(a *assembly) {
		if t != nil {
			a.tracer = t
		}
	}
}

// New assembles a pipeline from configuration.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	a := assembly{
		logger: observability.NopLogger{},
		tracer: observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(&a)
	}

	if a.primary == nil {
		a.primary = tesseract.NewFast(cfg.OCRLanguages...)
		switch cfg.OCRFallback {
		case "", "tesseract":
			a.fallback = tesseract.NewAccurate(cfg.OCRLanguages...)
		case "llm":
			eng, err := llm.New(llm.Config{
				Provider:  cfg.LLMProvider,
				Model:     cfg.LLMModel,
				ServerURL: cfg.LLMServerURL,
				APIKey:    cfg.LLMAPIKey,
			})
			if err != nil {
				return nil, Errors.NewWithCause(ErrBadConfig, err)
			}
			a.fallback = eng
		case "off":
			a.fallback = nil
		default:
			return nil, Errors.NewWithMessage(ErrBadConfig,
				fmt.Sprintf("unknown OCR fallback %q", cfg.OCRFallback))
		}
	}
	if a.service == nil {
		if cfg.PIIBaseURL == "" {
			return nil, Errors.NewWithMessage(ErrBadConfig, "PII service URL is required (REDACT_PII_URL)")
		}
		a.service = pii.NewClient(pii.ClientConfig{
			BaseURL: cfg.PIIBaseURL,
			Token:   cfg.PIIToken,
			Timeout: cfg.PIITimeout,
		})
	}

	engineOpts := []ocr.Option{
		ocr.WithThreshold(cfg.OCRThreshold),
		ocr.WithCache(ocr.NewCache()),
		ocr.WithLogger(a.logger),
		ocr.WithTracer(a.tracer),
	}
	if a.fallback != nil {
		engineOpts = append(engineOpts, ocr.WithFallback(a.fallback))
	}

	return &Pipeline{
		pre:       preprocess.New(preprocess.Options{MaxDimension: cfg.MaxDimension}, a.logger),
		engine:    ocr.NewEngine(a.primary, engineOpts...),
		annotator: pii.NewAnnotator(a.service, a.logger),
		renderer:  mask.NewRenderer(a.logger),
		logger:    a.logger,
		tracer:    a.tracer,
	}, nil
}

// Detect runs preprocessing, recognition, and PII annotation on a normalized
// raster and returns the recognition result with the located matches.
func (p *Pipeline) Detect(ctx context.Context, img *raster.Image) (*batch.DetectOutput, error) {
	matches, res, err := p.detect(ctx, img)
	if err != nil {
		return nil, err
	}
	return &batch.DetectOutput{OCR: res, Matches: matches}, nil
}

func (p *Pipeline) detect(ctx context.Context, img *raster.Image) ([]pii.Match, *ocr.Result, error) {
	ctx, sp := p.tracer.StartSpan(ctx, "pipeline.detect")
	defer sp.Finish()

	report := p.pre.Apply(ctx, img)
	applied := 0
	for _, step := range report.Steps {
		if step.Applied {
			applied++
		}
	}
	sp.SetTag("preprocess.applied", applied)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	res, err := p.engine.Recognize(ctx, img)
	if err != nil {
		sp.SetError(err)
		return nil, nil, err
	}
	matches, err := p.annotator.Annotate(ctx, res)
	if err != nil {
		sp.SetError(err)
		return nil, nil, err
	}
	sp.SetTag("pii.count", len(matches))
	return matches, res, nil
}

// Mask runs Detect and renders the matches away. The returned PNG encodes the
// masked image; zero matches yield the preprocessed image unchanged.
func (p *Pipeline) Mask(ctx context.Context, img *raster.Image, opts mask.Options) (*batch.MaskOutput, error) {
	matches, _, err := p.detect(ctx, img)
	if err != nil {
		return nil, err
	}
	out, warnings, err := p.renderer.Render(img, matches, opts)
	if err != nil {
		return nil, err
	}
	data, err := out.EncodePNG()
	if err != nil {
		return nil, err
	}
	return &batch.MaskOutput{PNG: data, Matches: matches, Warnings: warnings}, nil
}

// Orchestrator builds the batch runner around this pipeline using the same
// configuration it was assembled from.
func (p *Pipeline) Orchestrator(cfg Config) *batch.Orchestrator {
	return batch.New(p,
		batch.WithWorkers(cfg.Workers),
		batch.WithTimeoutPerMegapixel(cfg.TimeoutPerMP),
		batch.WithMinItemTimeout(cfg.MinItemTimeout),
		batch.WithLogger(p.logger),
		batch.WithTracer(p.tracer),
	)
}
