package retrieval

import (
	"errors"
	"fmt"
)

var (
	ErrRetrieval = errors.New("retrieval failed")
	ErrNoBackend = errors.New("no retrieval backend configured")
	ErrNoVector  = errors.New("embedding returned no vector")
)

// RetrievalError describes a failed search for one ticker.
type RetrievalError struct {
	Op     string
	Ticker string
	Err    error
}

func (e *RetrievalError) Error() string {
	if e.Ticker == "" {
		return fmt.Sprintf("retrieval %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("retrieval %s for %s: %v", e.Op, e.Ticker, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Is reports ErrRetrieval for every RetrievalError.
func (e *RetrievalError) Is(target error) bool { return target == ErrRetrieval }
