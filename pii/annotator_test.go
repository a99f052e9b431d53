package pii

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/Abraxas-365/craftable/errx"

	"github.com/mkarpel/redactkit/ocr"
)

type stubService struct {
	matches map[string][]TextMatch
	err     error
	asked   []string
}

func (s *stubService) Match(ctx context.Context, text string) ([]TextMatch, error) {
	s.asked = append(s.asked, text)
	if s.err != nil {
		return nil, s.err
	}
	return s.matches[text], nil
}

func singleBlockResult(text string, bounds ocr.Region, confidence float64) *ocr.Result {
	return &ocr.Result{
		FullText: text,
		Blocks: []ocr.TextBlock{{
			Text:       text,
			Confidence: confidence,
			Bounds:     bounds,
			LineNumber: 0,
			Offset:     0,
		}},
	}
}

func TestAnnotateProportionalMapping(t *testing.T) {
	text := "Call 555-0142 now"
	bounds := ocr.Region{X: 100, Y: 50, Width: 170, Height: 20}
	svc := &stubService{matches: map[string][]TextMatch{
		text: {{Type: "PHONE", Value: "555-0142", MaskedValue: "XXX-0142", Category: CategoryContact, Start: 5, End: 13}},
	}}

	matches, err := NewAnnotator(svc, nil).Annotate(context.Background(), singleBlockResult(text, bounds, 0.9))
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]

	if !bounds.Contains(m.Bounds) {
		t.Fatalf("match box %+v escapes block box %+v", m.Bounds, bounds)
	}
	// 17 runes over 170px: 10px per character, padded outward by 2% of width.
	wantLeft := 100.0 + 50.0 - 3.4
	wantRight := 100.0 + 130.0 + 3.4
	if math.Abs(m.Bounds.X-wantLeft) > 0.01 || math.Abs(m.Bounds.X+m.Bounds.Width-wantRight) > 0.01 {
		t.Fatalf("unexpected horizontal extent: [%v, %v]", m.Bounds.X, m.Bounds.X+m.Bounds.Width)
	}
	if m.Bounds.Y != 50 || m.Bounds.Height != 20 {
		t.Fatalf("match must keep the block's full height: %+v", m.Bounds)
	}
	if m.StartPos != 5 || m.EndPos != 13 {
		t.Fatalf("positions = [%d, %d], want [5, 13]", m.StartPos, m.EndPos)
	}
	if m.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want block confidence", m.Confidence)
	}
}

func TestAnnotatePositionsAcrossBlocks(t *testing.T) {
	res := &ocr.Result{
		FullText: "header\nSSN 123-45-6789",
		Blocks: []ocr.TextBlock{
			{Text: "header", Confidence: 0.9, Bounds: ocr.Region{Width: 60, Height: 12}, Offset: 0},
			{Text: "SSN 123-45-6789", Confidence: 0.8, Bounds: ocr.Region{Y: 14, Width: 150, Height: 12}, Offset: 7, LineNumber: 1},
		},
	}
	svc := &stubService{matches: map[string][]TextMatch{
		"SSN 123-45-6789": {{Type: "SSN", Value: "123-45-6789", Start: 4, End: 15}},
	}}

	matches, err := NewAnnotator(svc, nil).Annotate(context.Background(), res)
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.StartPos != 11 || m.EndPos != 22 {
		t.Fatalf("positions = [%d, %d], want [11, 22]", m.StartPos, m.EndPos)
	}
	if got := res.FullText[m.StartPos:m.EndPos]; got != "123-45-6789" {
		t.Fatalf("FullText slice = %q", got)
	}
	if m.EndPos > len(res.FullText) || m.StartPos >= m.EndPos {
		t.Fatalf("offset invariant violated: [%d, %d]", m.StartPos, m.EndPos)
	}
}

func TestAnnotateDeduplicatesAcrossBlocks(t *testing.T) {
	res := &ocr.Result{
		FullText: "acct 12345678\nacct 12345678",
		Blocks: []ocr.TextBlock{
			{Text: "acct 12345678", Confidence: 0.6, Bounds: ocr.Region{Width: 130, Height: 12}, Offset: 0},
			{Text: "acct 12345678", Confidence: 0.95, Bounds: ocr.Region{Y: 10, Width: 130, Height: 12}, Offset: 14, LineNumber: 1},
		},
	}
	svc := &stubService{matches: map[string][]TextMatch{
		"acct 12345678": {{Type: "ACCOUNT", Value: "12345678", Start: 5, End: 13}},
	}}

	matches, err := NewAnnotator(svc, nil).Annotate(context.Background(), res)
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected deduplicated single match, got %d", len(matches))
	}
	if matches[0].Confidence != 0.95 {
		t.Fatalf("dedup must keep the higher-confidence occurrence, got %v", matches[0].Confidence)
	}
}

func TestAnnotateDropsMalformedMatches(t *testing.T) {
	text := "short"
	svc := &stubService{matches: map[string][]TextMatch{
		text: {
			{Type: "A", Value: "x", Start: 4, End: 99},  // end past input
			{Type: "B", Value: "x", Start: 3, End: 3},   // empty span
			{Type: "C", Value: "sho", Start: 0, End: 3}, // valid
			{Type: "D", Value: "h", Start: 1, End: 2},   // offsets went backwards
		},
	}}

	matches, err := NewAnnotator(svc, nil).Annotate(context.Background(),
		singleBlockResult(text, ocr.Region{Width: 50, Height: 10}, 0.9))
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Type != "C" {
		t.Fatalf("expected only the valid match, got %+v", matches)
	}
}

func TestAnnotateSkipsExcludedBlocks(t *testing.T) {
	res := &ocr.Result{
		FullText: "visible",
		Blocks: []ocr.TextBlock{
			{Text: "visible", Confidence: 0.9, Bounds: ocr.Region{Width: 70, Height: 10}, Offset: 0},
			{Text: "", Confidence: 0, Bounds: ocr.Region{Y: 12, Width: 70, Height: 10}, Offset: -1},
		},
	}
	svc := &stubService{}
	if _, err := NewAnnotator(svc, nil).Annotate(context.Background(), res); err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if len(svc.asked) != 1 || svc.asked[0] != "visible" {
		t.Fatalf("service must only see non-empty blocks, saw %v", svc.asked)
	}
}

func TestAnnotateServiceFailure(t *testing.T) {
	svc := &stubService{err: errors.New("connection refused")}
	_, err := NewAnnotator(svc, nil).Annotate(context.Background(),
		singleBlockResult("text", ocr.Region{Width: 40, Height: 10}, 0.9))
	if err == nil {
		t.Fatalf("expected service error")
	}
	if !errx.IsCode(err, ErrServiceUnavailable) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnnotateUnicodeOffsets(t *testing.T) {
	text := "naïve test@example.com"
	runesBefore := 6 // "naïve " is 6 runes, 7 bytes
	svc := &stubService{matches: map[string][]TextMatch{
		text: {{Type: "EMAIL", Value: "test@example.com", Start: runesBefore, End: 22}},
	}}

	matches, err := NewAnnotator(svc, nil).Annotate(context.Background(),
		singleBlockResult(text, ocr.Region{Width: 220, Height: 14}, 0.9))
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	got := text[m.StartPos:m.EndPos]
	if got != "test@example.com" {
		t.Fatalf("byte offsets misaligned, sliced %q", got)
	}
	if !strings.HasSuffix(text, got) {
		t.Fatalf("expected suffix slice, got %q", got)
	}
}

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"government": CategoryGovernment,
		"FINANCIAL":  CategoryFinancial,
		"Contact":    CategoryContact,
		"custom":     CategoryCustom,
		"anything":   CategoryCustom,
		"":           CategoryCustom,
	}
	for in, want := range cases {
		if got := ParseCategory(in); got != want {
			t.Fatalf("ParseCategory(%q) = %q, want %q", in, got, want)
		}
	}
}
