// Package llm defines the LLM collaborator interface consumed by the
// conversation pipeline, and a Gemini HTTP implementation.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client is the synchronous completion interface the pipeline depends on.
// Implementations enforce their own timeout when the context carries no
// deadline. Failures are returned as *CollaboratorError, never panics.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CollaboratorError wraps any LLM-side failure (timeout, transport,
// malformed output, missing credentials) so pipeline stages can map it
// to their safe defaults.
type CollaboratorError struct {
	Op  string // which call failed
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// IsCollaboratorError reports whether err is a collaborator failure.
func IsCollaboratorError(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
