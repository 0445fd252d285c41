package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrInvocationExhausted matches every *ExhaustedError.
	ErrInvocationExhausted = errors.New("model invocation exhausted its retries")

	// ErrNoStructuredOutput means the model answered in free text only.
	ErrNoStructuredOutput = errors.New("response carries no structured output")
)

// TransportError is a failure to reach the backend or an error it returned.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "model transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// ShapeError means the backend answered but the answer did not decode into
// or validate as the expected shape.
type ShapeError struct {
	Raw string
	Err error
}

func (e *ShapeError) Error() string { return "malformed model output: " + e.Err.Error() }

func (e *ShapeError) Unwrap() error { return e.Err }

// ExhaustedError is returned once every attempt failed. Last is the cause
// of the final attempt.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("model invocation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrInvocationExhausted }
