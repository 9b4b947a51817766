package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/openai/openai-go"
)

var (
	// ErrTimeout is returned when the model did not answer within the configured timeout.
	ErrTimeout = errors.New("model request timed out")

	// ErrUnknown wraps failures that are neither timeouts nor request errors.
	ErrUnknown = errors.New("model request failed")

	// ErrEmptyResponse is returned when the model answered without any text.
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// RequestError is a failed HTTP exchange with the model endpoint. StatusCode is zero when no
// response was received.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("model request error: %v", e.Err)
	}
	return fmt.Sprintf("model request error (status %d): %v", e.StatusCode, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// classify maps a client error onto ErrTimeout, *RequestError or ErrUnknown.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &RequestError{StatusCode: apiErr.StatusCode, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return &RequestError{Err: err}
	}
	return fmt.Errorf("%w: %v", ErrUnknown, err)
}

// status labels an error for metrics.
func status(err error) string {
	var reqErr *RequestError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.As(err, &reqErr):
		return "request_error"
	default:
		return "error"
	}
}
