package ai

import (
	"errors"
	"fmt"
)

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// RemoteServiceError reports a transport or authentication failure talking to
// the model provider. StatusCode is 0 when no HTTP response was received.
type RemoteServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote service error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote service error: %s", e.Message)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrQuotaExceeded) match rate-limit responses.
func (e *RemoteServiceError) Is(target error) bool {
	return target == ErrQuotaExceeded && e.StatusCode == 429
}

// ParseError reports a reply that does not match the expected structure.
// Raw keeps the reply for diagnostics.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "unexpected model reply: " + e.Reason
}
