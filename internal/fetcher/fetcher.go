// Package fetcher retrieves rendered product pages.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTimeout    = errors.New("fetch timed out")
	ErrNavigation = errors.New("navigation failed")
	ErrStatus     = errors.New("unexpected http status")
)

// Fetcher returns the page content of url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// StatusError is returned for non-success responses. It matches ErrStatus.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", ErrStatus, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	var se *StatusError
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.As(err, &se):
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrNavigation):
		return true
	}
	return false
}

// classify maps a raw transport error onto the package sentinels.
// parent is the caller's context: its own cancellation is passed through untouched.
func classify(parent context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrNavigation), errors.Is(err, ErrStatus):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNavigation, err)
}

// ErrorLabel names the class of a fetch error for metrics.
func ErrorLabel(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStatus):
		return "status"
	case errors.Is(err, ErrNavigation):
		return "navigation"
	}
	return "error"
}
