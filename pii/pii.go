// Package pii translates text-space matches from the external PII pattern
// service into pixel-space annotations on recognized text lines. The pattern
// library itself is a black box: given a string it returns typed matches with
// masked values and character offsets; this package owns only the mapping of
// those offsets back onto the image.
package pii

import (
	"context"
	"net/http"
	"strings"

	"github.com/Abraxas-365/craftable/errx"

	"github.com/mkarpel/redactkit/ocr"
)

// Errors is the registry for matcher failures.
var Errors = errx.NewRegistry("PII")

// ErrServiceUnavailable marks a pattern-service transport or protocol failure.
var ErrServiceUnavailable = Errors.Register("SERVICE_UNAVAILABLE", errx.TypeExternal, http.StatusBadGateway, "pii pattern service unavailable")

// Category buckets PII types. The mapping from type to category is owned by
// the pattern service; this package treats it as opaque metadata.
type Category string

const (
	CategoryGovernment Category = "government"
	CategoryFinancial  Category = "financial"
	CategoryContact    Category = "contact"
	CategoryCustom     Category = "custom"
)

// ParseCategory normalizes a category string, defaulting to custom.
func ParseCategory(s string) Category {
	switch Category(strings.ToLower(s)) {
	case CategoryGovernment:
		return CategoryGovernment
	case CategoryFinancial:
		return CategoryFinancial
	case CategoryContact:
		return CategoryContact
	default:
		return CategoryCustom
	}
}

// TextMatch is one match reported by the pattern service, scoped to the input
// string it was asked about. Start and End are rune offsets, End exclusive.
type TextMatch struct {
	Type        string   `json:"type"`
	Value       string   `json:"value"`
	MaskedValue string   `json:"masked_value"`
	Category    Category `json:"category"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
}

// Service is the external pattern-matching collaborator.
type Service interface {
	Match(ctx context.Context, text string) ([]TextMatch, error)
}

// Match is a PII occurrence annotated with its pixel region. StartPos and
// EndPos are byte offsets into the OCR result's FullText.
type Match struct {
	Type        string     `json:"type"`
	RawValue    string     `json:"raw_value"`
	MaskedValue string     `json:"masked_value"`
	Category    Category   `json:"category"`
	Confidence  float64    `json:"confidence"`
	Bounds      ocr.Region `json:"bbox"`
	StartPos    int        `json:"start_pos"`
	EndPos      int        `json:"end_pos"`
}
