package coach

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrSessionNotActive is returned when an operation requires a live
	// streaming session and none is established.
	ErrSessionNotActive = errors.New("streaming session is not active")

	// ErrConnectInProgress is returned by Connect while another connect
	// attempt is still underway.
	ErrConnectInProgress = errors.New("connect already in progress")

	// ErrReadOnlyDate is returned when modifying a plan for any date other
	// than today. Past dates can be viewed but never edited.
	ErrReadOnlyDate = errors.New("only today's plan can be modified")

	// ErrCategoryNotFound is returned when the plan template has no such
	// category.
	ErrCategoryNotFound = errors.New("category not found in plan template")

	// ErrDrillNotFound is returned when the plan template has no such
	// drill in the given category.
	ErrDrillNotFound = errors.New("drill not found in plan template")
)

// CaptureError wraps microphone/capture failures that abort a connect
// attempt. The session is fully torn down before this is returned.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("audio capture error: %v", e.Err)
}

func (e *CaptureError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportError represents transport-level failures (DNS, timeouts,
// connection reset, websocket dial) while talking to the agent or the
// backend.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from backend API errors (*APIError).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// APIError represents a non-2xx response from the coach backend or agent.
type APIError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("api error %d from %s: %s", e.StatusCode, redactURLUserInfo(e.URL), e.Message)
	}
	return fmt.Sprintf("api error %d from %s", e.StatusCode, redactURLUserInfo(e.URL))
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
