// Package batch runs detection and masking over collections of images with a
// bounded worker pool. Results come back in input order, one item's failure
// never aborts its siblings, and every item runs under a size-scaled deadline.
package batch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mkarpel/redactkit/mask"
	"github.com/mkarpel/redactkit/observability"
	"github.com/mkarpel/redactkit/ocr"
	"github.com/mkarpel/redactkit/pii"
	"github.com/mkarpel/redactkit/raster"
)

// Errors is the registry for batch-level failures. Per-item failures are
// reported inside the item result, not as Go errors.
var Errors = errx.NewRegistry("BATCH")

var (
	ErrEmptyBatch    = Errors.Register("EMPTY", errx.TypeValidation, http.StatusBadRequest, "batch contains no items")
	ErrItemTimeout   = Errors.Register("ITEM_TIMEOUT", errx.TypeTimeout, http.StatusGatewayTimeout, "item exceeded its processing deadline")
	ErrArchiveFailed = Errors.Register("ARCHIVE_FAILED", errx.TypeInternal, http.StatusInternalServerError, "failed to package batch output")
)

const (
	defaultWorkers = 4

	// Per-item deadline scales with decoded size so a poster-sized scan does
	// not get the same budget as a thumbnail.
	defaultTimeoutPerMP = 3 * time.Second
	minItemTimeout      = 5 * time.Second
)

// Processor runs the per-image pipeline on an already normalized raster.
// Implemented by pipeline.Pipeline.
type Processor interface {
	Detect(ctx context.Context, img *raster.Image) (*DetectOutput, error)
	Mask(ctx context.Context, img *raster.Image, opts mask.Options) (*MaskOutput, error)
}

// DetectOutput couples the recognition result with the matches located in it.
type DetectOutput struct {
	OCR     *ocr.Result
	Matches []pii.Match
}

// MaskOutput is one masked image plus what was found in it.
type MaskOutput struct {
	PNG      []byte
	Matches  []pii.Match
	Warnings []mask.Warning
}

// Item is one batch input. ID is assigned when empty.
type Item struct {
	ID     string
	Data   []byte
	Format raster.Format
}

// Status tells whether an item made it through the pipeline.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// ItemResult is the per-item outcome, in input order. An item with zero
// matches and Status ok is a success, not a failure.
type ItemResult struct {
	ID       string         `json:"id"`
	Status   Status         `json:"status"`
	OCR      *ocr.Result    `json:"ocr,omitempty"`
	Matches  []pii.Match    `json:"matches,omitempty"`
	Warnings []mask.Warning `json:"warnings,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ns"`

	// PNG holds the masked image for mask runs. Empty for detect runs and
	// failed items.
	PNG []byte `json:"-"`
}

// Report aggregates a batch run.
type Report struct {
	BatchID             string        `json:"batch_id"`
	Items               []ItemResult  `json:"items"`
	Succeeded           int           `json:"succeeded"`
	Failed              int           `json:"failed"`
	TotalPII            int           `json:"total_pii"`
	ItemsWithPII        int           `json:"items_with_pii"`
	TotalProcessingTime time.Duration `json:"total_processing_time_ns"`
}

// Orchestrator fans Items out over a bounded pool of workers.
type Orchestrator struct {
	proc         Processor
	workers      int
	timeoutPerMP time.Duration
	minTimeout   time.Duration
	logger       observability.Logger
	tracer       observability.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers bounds pool concurrency.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithTimeoutPerMegapixel sets the per-item deadline scale.
func WithTimeoutPerMegapixel(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeoutPerMP = d
		}
	}
}

// WithMinItemTimeout sets the per-item deadline floor.
func WithMinItemTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.minTimeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l observability.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer attaches a tracer.
func WithTracer(t observability.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// New builds an orchestrator around a processor.
func New(proc Processor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		proc:         proc,
		workers:      defaultWorkers,
		timeoutPerMP: defaultTimeoutPerMP,
		minTimeout:   minItemTimeout,
		logger:       observability.NopLogger{},
		tracer:       observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Detect runs PII detection over every item.
func (o *Orchestrator) Detect(ctx context.Context, items []Item) (*Report, error) {
	return o.run(ctx, items, "batch.detect", func(ctx context.Context, img *raster.Image, res *ItemResult) error {
		out, err := o.proc.Detect(ctx, img)
		if err != nil {
			return err
		}
		res.OCR = out.OCR
		res.Matches = out.Matches
		return nil
	})
}

// Mask runs detection and masking over every item. The masked PNG for each
// successful item lands in ItemResult.PNG; see Zip for multi-item packaging.
func (o *Orchestrator) Mask(ctx context.Context, items []Item, opts mask.Options) (*Report, error) {
	return o.run(ctx, items, "batch.mask", func(ctx context.Context, img *raster.Image, res *ItemResult) error {
		out, err := o.proc.Mask(ctx, img, opts)
		if err != nil {
			return err
		}
		res.Matches = out.Matches
		res.Warnings = out.Warnings
		res.PNG = out.PNG
		return nil
	})
}

func (o *Orchestrator) run(ctx context.Context, items []Item, span string, work func(context.Context, *raster.Image, *ItemResult) error) (*Report, error) {
	if len(items) == 0 {
		return nil, Errors.New(ErrEmptyBatch)
	}
	ctx, sp := o.tracer.StartSpan(ctx, span)
	defer sp.Finish()

	report := &Report{
		BatchID: uuid.NewString(),
		Items:   make([]ItemResult, len(items)),
	}
	sp.SetTag("batch.id", report.BatchID)
	sp.SetTag("batch.size", len(items))

	start := time.Now()
	sem := semaphore.NewWeighted(int64(o.workers))
	for i := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Dispatch stops on cancellation; items already running finish
			// and their results are kept.
			for j := i; j < len(items); j++ {
				report.Items[j] = ItemResult{ID: itemID(items[j]), Status: StatusFailed, Error: ctx.Err().Error()}
			}
			break
		}
		go func(idx int) {
			defer sem.Release(1)
			report.Items[idx] = o.runOne(ctx, items[idx], work)
		}(i)
	}
	// Wait for in-flight workers. Acquire with the background context so a
	// canceled batch still drains cleanly.
	if err := sem.Acquire(context.Background(), int64(o.workers)); err == nil {
		sem.Release(int64(o.workers))
	}

	report.TotalProcessingTime = time.Since(start)
	for i := range report.Items {
		res := &report.Items[i]
		switch res.Status {
		case StatusOK:
			report.Succeeded++
			report.TotalPII += len(res.Matches)
			if len(res.Matches) > 0 {
				report.ItemsWithPII++
			}
		default:
			report.Failed++
		}
	}
	o.logger.Info("batch finished",
		observability.String("batch_id", report.BatchID),
		observability.Int("succeeded", report.Succeeded),
		observability.Int("failed", report.Failed),
		observability.Int("total_pii", report.TotalPII),
		observability.Duration("elapsed", report.TotalProcessingTime),
	)
	return report, nil
}

// runOne isolates a single item: panics and errors become a failed item
// result, never a batch failure.
func (o *Orchestrator) runOne(ctx context.Context, item Item, work func(context.Context, *raster.Image, *ItemResult) error) (out ItemResult) {
	res := ItemResult{ID: itemID(item)}
	start := time.Now()
	defer func() {
		out.Duration = time.Since(start)
	}()

	img, err := raster.Normalize(item.Data, item.Format)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		o.logger.Warn("item rejected", observability.String("item", res.ID), observability.Error("error", err))
		return res
	}

	timeout := o.itemTimeout(img.Megapixels())
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The worker fills its own copy so a timed-out worker never races with
	// the result we hand back.
	wres := res
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- work(ictx, img, &wres)
	}()
	select {
	case err = <-done:
		if err == nil {
			wres.Status = StatusOK
			return wres
		}
	case <-ictx.Done():
		// The timed-out worker finishes on its own and its result is
		// dropped. Its pool slot is released immediately, so effective
		// concurrency can exceed the worker bound by one per timed-out item
		// until the abandoned goroutine exits.
		err = Errors.NewWithMessage(ErrItemTimeout,
			fmt.Sprintf("item %s exceeded %s", res.ID, timeout)).WithDetail("timeout", timeout.String())
	}
	res.Status = StatusFailed
	res.Error = err.Error()
	o.logger.Warn("item failed", observability.String("item", res.ID), observability.Error("error", err))
	return res
}

func (o *Orchestrator) itemTimeout(megapixels float64) time.Duration {
	d := time.Duration(float64(o.timeoutPerMP) * megapixels)
	if d < o.minTimeout {
		d = o.minTimeout
	}
	return d
}

func itemID(item Item) string {
	if item.ID != "" {
		return item.ID
	}
	return uuid.NewString()
}
