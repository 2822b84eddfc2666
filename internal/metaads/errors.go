package metaads

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is wrapped by every *ConfigError.
	ErrNotConfigured = errors.New("meta ads credentials not configured")
	// ErrInvalidRatio rejects lookalike ratios outside [0.01, 0.10].
	ErrInvalidRatio = errors.New("invalid lookalike ratio: use a value between 0.01 and 0.10")
)

// ConfigError names the credential field that was missing when a call needed it.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotConfigured.Error(), e.Field)
}

func (e *ConfigError) Unwrap() error { return ErrNotConfigured }

// APIError is a non-2xx answer, or a 2xx answer carrying an "error" object,
// from the Graph API. Message is the platform's text, unmodified.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       int
	TraceID    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("meta api error (status %d)", e.StatusCode)
	}
	return e.Message
}

// IsAPIError reports whether err wraps an *APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
