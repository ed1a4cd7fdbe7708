package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why an action failed.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindExecutionFailed    Kind = "execution_failed"
	KindTimeout            Kind = "timeout"
	KindServiceUnavailable Kind = "service_unavailable"
	KindCancelled          Kind = "cancelled"
)

// ActionError is the only failure value executors and the fallback return.
// Detail is for logs; it is never spoken.
type ActionError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func NewActionError(kind Kind, detail string, cause error) *ActionError {
	return &ActionError{Kind: kind, Detail: detail, Err: cause}
}

func NotFound(detail string) *ActionError {
	return NewActionError(KindNotFound, detail, nil)
}

func ExecutionFailed(detail string, cause error) *ActionError {
	return NewActionError(KindExecutionFailed, detail, cause)
}

func Timeout(detail string, cause error) *ActionError {
	return NewActionError(KindTimeout, detail, cause)
}

func ServiceUnavailable(detail string, cause error) *ActionError {
	return NewActionError(KindServiceUnavailable, detail, cause)
}

// AsActionError converts any error into an ActionError. Context errors map to
// Timeout or Cancelled, everything unknown to ExecutionFailed.
func AsActionError(err error) *ActionError {
	if err == nil {
		return nil
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout("deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewActionError(KindCancelled, "cancelled", err)
	}
	return ExecutionFailed("unexpected error", err)
}

// KindOf reports the Kind of err, or "" for nil.
func KindOf(err error) Kind {
	if ae := AsActionError(err); ae != nil {
		return ae.Kind
	}
	return ""
}
