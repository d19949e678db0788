// Package apperrors holds the failure taxonomy shared by the pipeline stages.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Kinds. Match with errors.Is.
var (
	ErrAnalysis    = errors.New("analysis error")
	ErrRetrieval   = errors.New("retrieval error")
	ErrGeneration  = errors.New("generation error")
	ErrPersistence = errors.New("persistence error")
)

// StageError ties a failure to the stage and operation it happened in.
type StageError struct {
	Kind error
	Op   string
	Err  error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Analysis(op string, err error) error {
	return &StageError{Kind: ErrAnalysis, Op: op, Err: err}
}

func Retrieval(op string, err error) error {
	return &StageError{Kind: ErrRetrieval, Op: op, Err: err}
}

func Generation(op string, err error) error {
	return &StageError{Kind: ErrGeneration, Op: op, Err: err}
}

func Persistence(op string, err error) error {
	return &StageError{Kind: ErrPersistence, Op: op, Err: err}
}

// IsRetryable reports whether a caller may retry the failed operation as-is.
// Caller cancellations are not retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrGeneration) || errors.Is(err, ErrPersistence)
}
