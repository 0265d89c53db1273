package b2

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrMissingCredentials = errors.New("b2: key id and application key are required")
	ErrInvalidResponse    = errors.New("b2: invalid response")
)

// APIError is the error document B2 returns with every non-2xx response.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("b2: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err means the file or bucket does not exist.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case "not_found", "file_not_present", "no_such_file":
		return true
	}
	return apiErr.Status == http.StatusNotFound
}

// IsUnauthorized reports whether err was caused by bad or expired credentials.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// FailureKind is a coarse diagnostic label for a failed call.
type FailureKind string

const (
	FailureTimeout      FailureKind = "timeout"
	FailureBadRequest   FailureKind = "bad_request"
	FailureUnauthorized FailureKind = "unauthorized"
	FailureForbidden    FailureKind = "forbidden"
	FailureServerError  FailureKind = "server_error"
	FailureUnknown      FailureKind = "unknown"
)

// Classify labels err for logging. Callers must not branch on the result.
func Classify(err error) FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return FailureUnknown
	}
	switch {
	case apiErr.Status == http.StatusRequestTimeout || apiErr.Code == "request_timeout":
		return FailureTimeout
	case apiErr.Status == http.StatusBadRequest:
		return FailureBadRequest
	case apiErr.Status == http.StatusUnauthorized:
		return FailureUnauthorized
	case apiErr.Status == http.StatusForbidden:
		return FailureForbidden
	case apiErr.Status >= http.StatusInternalServerError:
		return FailureServerError
	default:
		return FailureUnknown
	}
}
