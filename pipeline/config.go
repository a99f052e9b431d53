package pipeline

import (
	"strings"
	"time"

	"github.com/Abraxas-365/craftable/configx"
)

// Config carries everything the pipeline needs to assemble its stages. All
// values come from REDACT_-prefixed environment variables with sensible
// defaults, e.g. REDACT_OCR_THRESHOLD=0.8 or REDACT_BATCH_WORKERS=8.
type Config struct {
	// OCR
	OCRThreshold float64
	// OCRFallback selects the low-confidence re-read engine: "tesseract"
	// (default), "llm", or "off".
	OCRFallback  string
	OCRLanguages []string

	// LLM fallback backend
	LLMProvider  string
	LLMModel     string
	LLMServerURL string
	LLMAPIKey    string

	// Preprocessing
	MaxDimension int

	// Batch
	Workers        int
	TimeoutPerMP   time.Duration
	MinItemTimeout time.Duration

	// External PII matching service
	PIIBaseURL string
	PIIToken   string
	PIITimeout time.Duration
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	cfg, err := configx.NewBuilder().
		FromEnv("REDACT_").
		WithDefaults(map[string]any{
			"ocr.threshold":      0.70,
			"ocr.fallback":       "tesseract",
			"ocr.languages":      "eng",
			"llm.provider":       "ollama",
			"llm.model":          "llava",
			"image.maxdim":       3000,
			"batch.workers":      4,
			"batch.timeoutpermp": "3s",
			"batch.mintimeout":   "5s",
			"pii.timeout":        "10s",
		}).
		Build()
	if err != nil {
		return Config{}, err
	}
	return Config{
		OCRThreshold:   cfg.Get("ocr.threshold").AsFloatDefault(0.70),
		OCRFallback:    cfg.Get("ocr.fallback").AsStringDefault("tesseract"),
		OCRLanguages:   splitCSV(cfg.Get("ocr.languages").AsStringDefault("eng")),
		LLMProvider:    cfg.Get("llm.provider").AsStringDefault("ollama"),
		LLMModel:       cfg.Get("llm.model").AsStringDefault("llava"),
		LLMServerURL:   cfg.Get("llm.url").AsStringDefault(""),
		LLMAPIKey:      cfg.Get("llm.apikey").AsStringDefault(""),
		MaxDimension:   cfg.Get("image.maxdim").AsIntDefault(3000),
		Workers:        cfg.Get("batch.workers").AsIntDefault(4),
		TimeoutPerMP:   cfg.Get("batch.timeoutpermp").AsDurationDefault(3 * time.Second),
		MinItemTimeout: cfg.Get("batch.mintimeout").AsDurationDefault(5 * time.Second),
		PIIBaseURL:     cfg.Get("pii.url").AsStringDefault(""),
		PIIToken:       cfg.Get("pii.token").AsStringDefault(""),
		PIITimeout:     cfg.Get("pii.timeout").AsDurationDefault(10 * time.Second),
	}, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
