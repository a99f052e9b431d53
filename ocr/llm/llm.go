// Package llm implements the Recognizer contract with a vision language
// model via langchaingo. It serves as an alternative fallback recognizer for
// low-confidence lines: slower than a second Tesseract pass but far more
// robust on handwriting and degraded scans.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mkarpel/redactkit/ocr"
	"github.com/mkarpel/redactkit/raster"
)

const defaultPrompt = `Transcribe all text visible in this image exactly as written.
Preserve line breaks. Output only the transcription, with no commentary.`

const defaultMaxTokens = 2048

// nominalConfidence is attributed to LLM output: vision models report no
// per-line confidence, and transcriptions they do return are reliable enough
// to outrank a low-confidence Tesseract read.
const nominalConfidence = 0.85

// Config selects and parameterizes the vision model.
type Config struct {
	// Provider is "ollama" or "openai".
	Provider string
	Model    string
	// ServerURL points at the Ollama server; ignored for hosted providers.
	ServerURL string
	// APIKey authenticates hosted providers; ignored for Ollama.
	APIKey    string
	Prompt    string
	MaxTokens int
}

// Engine is a vision-LLM recognizer.
type Engine struct {
	name      string
	model     llms.Model
	prompt    string
	maxTokens int
}

// New constructs the recognizer for the configured provider.
func New(cfg Config) (*Engine, error) {
	var model llms.Model
	var err error
	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.ServerURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
		}
		model, err = ollama.New(opts...)
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create vision model client: %w", err)
	}

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Engine{
		name:      "llm-" + strings.ToLower(cfg.Provider),
		model:     model,
		prompt:    prompt,
		maxTokens: maxTokens,
	}, nil
}

func (e *Engine) Name() string { return e.name }

// Recognize sends the image to the vision model and splits the transcription
// into per-line blocks. Models return no positional data, so bounds are
// synthesized as equal-height horizontal bands, adequate for fallback
// re-recognition, where the caller keeps the primary detection's bounds.
func (e *Engine) Recognize(ctx context.Context, img *raster.Image) ([]ocr.TextBlock, error) {
	encoded, err := img.EncodePNG()
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	msgs := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.BinaryPart("image/png", encoded),
			llms.TextPart(e.prompt),
		},
	}}
	resp, err := e.model.GenerateContent(ctx, msgs, llms.WithMaxTokens(e.maxTokens))
	if err != nil {
		return nil, fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision model returned no choices")
	}

	lines := splitLines(resp.Choices[0].Content)
	if len(lines) == 0 {
		return nil, nil
	}

	bandH := float64(img.Height()) / float64(len(lines))
	blocks := make([]ocr.TextBlock, 0, len(lines))
	for i, line := range lines {
		blocks = append(blocks, ocr.TextBlock{
			Text:       line,
			Confidence: nominalConfidence,
			Bounds: ocr.Region{
				X:      0,
				Y:      float64(i) * bandH,
				Width:  float64(img.Width()),
				Height: bandH,
			},
			LineNumber: i,
		})
	}
	return blocks, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
