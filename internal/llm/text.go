package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seenimoa/portiq/internal/infra"
)

// ErrTextUnsupported is returned when the configured transport only
// produces schema-constrained JSON.
var ErrTextUnsupported = errors.New("llm: transport does not support free-text completion")

// TextRequest is one free-text completion call. User may be empty when the
// system prompt carries the whole question.
type TextRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// TextCompleter is implemented by transports that can answer in prose.
type TextCompleter interface {
	CompleteText(ctx context.Context, req *TextRequest) (string, error)

	// StreamText calls onDelta with each non-empty fragment in arrival
	// order. An error from onDelta stops the stream and is returned.
	StreamText(ctx context.Context, req *TextRequest, onDelta func(string) error) error
}

var (
	_ TextCompleter = (*OpenAICompleter)(nil)
	_ TextCompleter = (*EinoCompleter)(nil)
)

// Complete returns a free-text answer.
func (g *Gateway) Complete(ctx context.Context, system, user string, opts InferOptions) (string, error) {
	tc, ok := g.completer.(TextCompleter)
	if !ok {
		return "", ErrTextUnsupported
	}

	ctx, span := g.startText(ctx, "llm.complete")
	defer span.End()

	if err := g.waitText(ctx); err != nil {
		infra.RecordSpanError(span, err)
		return "", err
	}

	start := time.Now()
	out, err := tc.CompleteText(ctx, &TextRequest{
		System: system, User: user, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens,
	})
	if err == nil && strings.TrimSpace(out) == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		infra.RecordSpanError(span, err)
		g.log.WithField("operation", "complete").WithError(err).Warn("text completion failed")
		return "", err
	}

	g.log.WithFields(logrus.Fields{
		"operation": "complete",
		"elapsed":   time.Since(start).Round(time.Millisecond).String(),
	}).Debug("text completion completed")
	return out, nil
}

// Stream delivers a free-text answer fragment by fragment.
func (g *Gateway) Stream(ctx context.Context, system, user string, opts InferOptions, onDelta func(string) error) error {
	tc, ok := g.completer.(TextCompleter)
	if !ok {
		return ErrTextUnsupported
	}

	ctx, span := g.startText(ctx, "llm.stream")
	defer span.End()

	if err := g.waitText(ctx); err != nil {
		infra.RecordSpanError(span, err)
		return err
	}

	deltas := 0
	err := tc.StreamText(ctx, &TextRequest{
		System: system, User: user, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens,
	}, func(d string) error {
		deltas++
		return onDelta(d)
	})
	if err != nil {
		infra.RecordSpanError(span, err)
		g.log.WithFields(logrus.Fields{"operation": "stream", "deltas": deltas}).
			WithError(err).Warn("text stream failed")
		return err
	}
	span.SetAttributes(attribute.Int("llm.deltas", deltas))
	return nil
}

func (g *Gateway) startText(ctx context.Context, name string) (context.Context, trace.Span) {
	return infra.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.provider", g.completer.Name()),
	))
}

func (g *Gateway) waitText(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}
