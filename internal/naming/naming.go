// Package naming produces short descriptive labels for text records.
//
// The label comes from an external text model. Any failure, including a
// timeout or an empty reply, falls back to "Text YYYY-MM-DD", so callers
// never see an error.
package naming

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Instruction is the fixed prompt sent with every excerpt
const Instruction = "Generate a short, descriptive name of 3 to 5 words for the following text. Reply with the name only, without quotes or punctuation around it."

const (
	// MaxExcerptRunes is how much of the text is sent to the model
	MaxExcerptRunes = 500
	// DefaultTimeout bounds a single labeling call
	DefaultTimeout = 10 * time.Second
	// maxLabelRunes caps labels from a model that ignores the instruction
	maxLabelRunes = 100
)

var tracer = otel.Tracer("cloudspace-naming")

// Labeler turns an excerpt into a label
type Labeler interface {
	Label(ctx context.Context, excerpt string) (string, error)
}

// Assistant names text records
type Assistant struct {
	labeler Labeler
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures an Assistant
type Option func(*Assistant)

// WithClock sets the clock used for fallback labels
func WithClock(now func() time.Time) Option {
	return func(a *Assistant) { a.now = now }
}

// WithTimeout sets the per-call timeout
func WithTimeout(d time.Duration) Option {
	return func(a *Assistant) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAssistant creates an Assistant. A nil labeler yields fallback labels only.
func NewAssistant(labeler Labeler, logger *slog.Logger, opts ...Option) *Assistant {
	a := &Assistant{
		labeler: labeler,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NameFor returns a label for text
func (a *Assistant) NameFor(ctx context.Context, text string) string {
	if a.labeler == nil {
		return a.Fallback()
	}

	ctx, span := tracer.Start(ctx, "naming.name_for",
		trace.WithAttributes(attribute.Int("text_length", len(text))),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.labeler.Label(ctx, Excerpt(text))
	if err != nil {
		span.RecordError(err)
		a.logger.Warn("text naming failed, using fallback", "error", err)
		return a.Fallback()
	}

	label := CleanLabel(raw)
	if label == "" {
		a.logger.Warn("text naming returned an empty label, using fallback")
		return a.Fallback()
	}

	span.SetAttributes(attribute.Bool("fallback", false))
	return label
}

// Fallback returns "Text " followed by the current UTC date
func (a *Assistant) Fallback() string {
	return FallbackLabel(a.now())
}

// FallbackLabel returns "Text YYYY-MM-DD" for t in UTC
func FallbackLabel(t time.Time) string {
	return "Text " + t.UTC().Format(time.DateOnly)
}

// Excerpt returns at most the first MaxExcerptRunes characters of text
func Excerpt(text string) string {
	return truncateRunes(text, MaxExcerptRunes)
}

// CleanLabel keeps the first non-empty line of a model reply and strips
// surrounding whitespace and quotes
func CleanLabel(raw string) string {
	var label string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			label = line
			break
		}
	}
	label = strings.Trim(label, "\"'`“”‘’")
	label = strings.TrimSpace(label)
	return truncateRunes(label, maxLabelRunes)
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
