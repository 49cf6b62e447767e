package client

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when a client is used without credentials.
var ErrNotConfigured = errors.New("client not configured")

// APIError is a non-2xx reply from an upstream API.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Body)
}
