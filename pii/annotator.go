package pii

import (
	"context"
	"unicode/utf8"

	"github.com/mkarpel/redactkit/observability"
	"github.com/mkarpel/redactkit/ocr"
)

// proportionalPadFraction widens approximate boxes outward by this fraction
// of the owning block's width on each side. The offset-to-pixel mapping
// assumes uniform character width, so under-coverage is the failure mode to
// avoid; over-coverage inside the line box is safe.
const proportionalPadFraction = 0.02

// Annotator maps pattern-service matches onto pixel regions. OCR output is
// line-oriented, so matches never span blocks; that is an accepted limitation.
type Annotator struct {
	service Service
	logger  observability.Logger
}

// NewAnnotator builds an annotator over the external pattern service.
func NewAnnotator(service Service, logger observability.Logger) *Annotator {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Annotator{service: service, logger: logger}
}

// Annotate invokes the pattern service per text line and returns pixel-space
// matches in block order. Duplicate (type, value) pairs across overlapping
// blocks keep only the higher-confidence occurrence.
func (a *Annotator) Annotate(ctx context.Context, res *ocr.Result) ([]Match, error) {
	var out []Match
	index := make(map[string]int)

	for _, block := range res.Blocks {
		if block.Text == "" || block.Offset < 0 {
			continue
		}
		textMatches, err := a.service.Match(ctx, block.Text)
		if err != nil {
			return nil, Errors.NewWithCause(ErrServiceUnavailable, err)
		}

		prevEnd := 0
		for _, tm := range textMatches {
			if !a.validate(tm, block, prevEnd) {
				continue
			}
			prevEnd = tm.End

			m := Match{
				Type:        tm.Type,
				RawValue:    tm.Value,
				MaskedValue: tm.MaskedValue,
				Category:    tm.Category,
				Confidence:  block.Confidence,
				Bounds:      proportionalBox(block, tm),
				StartPos:    block.Offset + byteOffset(block.Text, tm.Start),
				EndPos:      block.Offset + byteOffset(block.Text, tm.End),
			}

			key := m.Type + "\x00" + m.RawValue
			if at, seen := index[key]; seen {
				if m.Confidence > out[at].Confidence {
					out[at] = m
				}
				continue
			}
			index[key] = len(out)
			out = append(out, m)
		}
	}
	return out, nil
}

// validate enforces the pattern-service contract: exclusive ends within the
// input, offsets monotonically non-decreasing. Violations drop the match with
// a warning rather than failing the image.
func (a *Annotator) validate(tm TextMatch, block ocr.TextBlock, prevEnd int) bool {
	runes := utf8.RuneCountInString(block.Text)
	if tm.Start < 0 || tm.Start >= tm.End || tm.End > runes || tm.Start < prevEnd {
		a.logger.Warn("dropping malformed pattern match",
			observability.String("type", tm.Type),
			observability.Int("start", tm.Start),
			observability.Int("end", tm.End),
			observability.Int("line", block.LineNumber))
		return false
	}
	return true
}

// proportionalBox approximates the matched substring's horizontal extent by
// character-count ratio across the block's width, keeps the block's full
// height, and pads outward, clamped back into the block's own box so the
// containment invariant holds for any caller-side padding.
func proportionalBox(block ocr.TextBlock, tm TextMatch) ocr.Region {
	runes := float64(utf8.RuneCountInString(block.Text))
	left := block.Bounds.X + block.Bounds.Width*float64(tm.Start)/runes
	right := block.Bounds.X + block.Bounds.Width*float64(tm.End)/runes

	box := ocr.Region{
		X:      left,
		Y:      block.Bounds.Y,
		Width:  right - left,
		Height: block.Bounds.Height,
	}
	pad := block.Bounds.Width * proportionalPadFraction
	return box.Pad(pad).Intersect(block.Bounds)
}

// byteOffset converts a rune offset within s to a byte offset.
func byteOffset(s string, runeOff int) int {
	n := 0
	for i := range s {
		if n == runeOff {
			return i
		}
		n++
	}
	return len(s)
}
