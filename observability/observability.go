package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/Abraxas-365/craftable/logx"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type stringField struct{ key, val string }

func (f stringField) Key() string        { return f.key }
func (f stringField) Value() interface{} { return f.val }

type intField struct {
	key string
	val int
}

func (f intField) Key() string        { return f.key }
func (f intField) Value() interface{} { return f.val }

type float64Field struct {
	key string
	val float64
}

func (f float64Field) Key() string        { return f.key }
func (f float64Field) Value() interface{} { return f.val }

type durationField struct {
	key string
	val time.Duration
}

func (f durationField) Key() string        { return f.key }
func (f durationField) Value() interface{} { return f.val }

type errorField struct {
	key string
	err error
}

func (f errorField) Key() string        { return f.key }
func (f errorField) Value() interface{} { return f.err }

func String(key, value string) Field             { return stringField{key, value} }
func Int(key string, value int) Field            { return intField{key, value} }
func Float64(key string, value float64) Field    { return float64Field{key, value} }
func Duration(key string, d time.Duration) Field { return durationField{key, d} }
func Error(key string, err error) Field          { return errorField{key, err} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// LogxLogger forwards to the process-wide logx logger. Fields are rendered as
// key=value pairs appended to the message.
type LogxLogger struct {
	base []Field
}

// NewLogxLogger returns a Logger backed by craftable/logx. Level and format
// are controlled by the LOG_LEVEL / LOG_FORMAT environment variables that logx
// reads at init.
func NewLogxLogger() *LogxLogger { return &LogxLogger{} }

func (l *LogxLogger) render(msg string, fields []Field) string {
	for _, f := range l.base {
		msg += fmt.Sprintf(" %s=%v", f.Key(), f.Value())
	}
	for _, f := range fields {
		msg += fmt.Sprintf(" %s=%v", f.Key(), f.Value())
	}
	return msg
}

// The logx level functions are printf-style; the rendered message must go
// through a "%s" verb so field values containing % survive intact.
func (l *LogxLogger) Debug(msg string, fields ...Field) { logx.Debug("%s", l.render(msg, fields)) }
func (l *LogxLogger) Info(msg string, fields ...Field)  { logx.Info("%s", l.render(msg, fields)) }
func (l *LogxLogger) Warn(msg string, fields ...Field)  { logx.Warn("%s", l.render(msg, fields)) }
func (l *LogxLogger) Error(msg string, fields ...Field) { logx.Error("%s", l.render(msg, fields)) }

func (l *LogxLogger) With(fields ...Field) Logger {
	base := make([]Field, 0, len(l.base)+len(fields))
	base = append(base, l.base...)
	base = append(base, fields...)
	return &LogxLogger{base: base}
}

// Tracer provides distributed tracing hooks for library operations.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span.
type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// Standard metric names emitted by the library.
const (
	MetricDecodeTime     = "redact.decode.duration"
	MetricPreprocessTime = "redact.preprocess.duration"
	MetricOCRTime        = "redact.ocr.duration"
	MetricFallbackCount  = "redact.ocr.fallback.count"
	MetricMatchCount     = "redact.pii.matches.count"
	MetricRenderTime     = "redact.mask.duration"
	MetricBatchItems     = "redact.batch.items.count"
)
