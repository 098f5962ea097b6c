// Package llm provides schema-constrained ("structured") completions.
//
// A Completer is one transport capable of returning JSON for a given
// schema (OpenAI strict json_schema, or any OpenAI-compatible endpoint via
// eino). The Gateway wraps a Completer and guarantees that Infer either
// returns a fully-populated value of the target type or fails with an
// InferenceError.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Provider names for configuration.
const (
	ProviderOpenAI = "openai"
	ProviderEino   = "eino"
)

// Common errors returned by transports and the gateway.
var (
	ErrNoAPIKey        = errors.New("llm: API key not configured")
	ErrRateLimit       = errors.New("llm: rate limit exceeded")
	ErrProviderDown    = errors.New("llm: provider unavailable")
	ErrRefusal         = errors.New("llm: model refused the request")
	ErrEmptyReply      = errors.New("llm: empty reply")
	ErrUnknownProvider = errors.New("llm: unknown provider")

	// ErrInference classifies every failure of a structured inference call.
	ErrInference = errors.New("llm: inference failed")
)

// StructuredRequest is one schema-constrained completion call.
type StructuredRequest struct {
	System      string
	User        string
	SchemaName  string
	Schema      map[string]any
	Temperature float64
	MaxTokens   int // 0 leaves the transport default
}

// Completer is implemented by every structured-completion transport.
// CompleteJSON returns the raw JSON document produced by the model; it does
// not validate it against the schema.
type Completer interface {
	// Name returns the transport identifier (e.g., "openai").
	Name() string

	CompleteJSON(ctx context.Context, req *StructuredRequest) (string, error)
}

// InferOptions tunes a single Infer call.
type InferOptions struct {
	Temperature float64
	MaxTokens   int
}

// InferenceError reports which step of a structured inference failed.
type InferenceError struct {
	Schema string // target schema name
	Op     string // "complete", "validate", "decode", "rate_limit"
	Err    error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("llm: %s %s: %v", e.Op, e.Schema, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Is makes every InferenceError match ErrInference.
func (e *InferenceError) Is(target error) bool { return target == ErrInference }
