package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/seenimoa/portiq/internal/infra"
)

// Gateway turns a Completer into typed, validated inference. It holds no
// per-call state and is safe for concurrent use.
type Gateway struct {
	completer Completer
	limiter   *rate.Limiter
	validate  *validator.Validate
	log       logrus.FieldLogger
}

// GatewayOption configures the gateway.
type GatewayOption func(*Gateway)

// WithLimiter bounds the outbound call rate. A nil limiter disables limiting.
func WithLimiter(l *rate.Limiter) GatewayOption {
	return func(g *Gateway) { g.limiter = l }
}

// WithLogger sets the logger used for call diagnostics. Nil is ignored.
func WithLogger(l logrus.FieldLogger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGateway wraps a completer.
func NewGateway(c Completer, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		completer: c,
		validate:  validator.New(),
		log:       infra.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Provider returns the name of the underlying transport.
func (g *Gateway) Provider() string { return g.completer.Name() }

// Infer asks the model for a T. The result is either a value that passed
// schema validation and struct validation, or an *InferenceError.
// Infer never retries.
func Infer[T any](ctx context.Context, g *Gateway, system, user string, opts InferOptions) (*T, error) {
	schema, err := SchemaFor[T]()
	if err != nil {
		return nil, &InferenceError{Schema: "unknown", Op: "schema", Err: err}
	}

	ctx, span := infra.Tracer().Start(ctx, "llm.infer", trace.WithAttributes(
		attribute.String("llm.schema", schema.Name),
		attribute.String("llm.provider", g.completer.Name()),
	))
	defer span.End()

	fail := func(op string, err error) (*T, error) {
		ierr := &InferenceError{Schema: schema.Name, Op: op, Err: err}
		infra.RecordSpanError(span, ierr)
		g.log.WithFields(logrus.Fields{
			"operation": "infer",
			"schema":    schema.Name,
			"step":      op,
		}).WithError(err).Warn("structured inference failed")
		return nil, ierr
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fail("rate_limit", err)
		}
	}

	start := time.Now()
	raw, err := g.completer.CompleteJSON(ctx, &StructuredRequest{
		System:      system,
		User:        user,
		SchemaName:  schema.Name,
		Schema:      schema.Definition,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return fail("complete", err)
	}

	if err := schema.Validate(raw); err != nil {
		return fail("validate", err)
	}

	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fail("decode", err)
	}
	if err := g.validate.Struct(out); err != nil {
		return fail("validate", err)
	}

	g.log.WithFields(logrus.Fields{
		"operation": "infer",
		"schema":    schema.Name,
		"elapsed":   time.Since(start).Round(time.Millisecond).String(),
	}).Debug("structured inference completed")

	return &out, nil
}
