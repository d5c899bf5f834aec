package oauth

import (
	"errors"
	"fmt"
)

// DiscoveryFailure classifies why metadata discovery failed.
type DiscoveryFailure int

const (
	// DiscoveryFailureNetwork indicates a transport-level error (DNS,
	// connect, timeout).
	DiscoveryFailureNetwork DiscoveryFailure = iota

	// DiscoveryFailureStatus indicates a non-200 HTTP response.
	DiscoveryFailureStatus

	// DiscoveryFailureInvalidJSON indicates the document could not be parsed.
	DiscoveryFailureInvalidJSON

	// DiscoveryFailureMissingField indicates a required metadata field was
	// absent or empty.
	DiscoveryFailureMissingField
)

func (f DiscoveryFailure) String() string {
	switch f {
	case DiscoveryFailureNetwork:
		return "network error"
	case DiscoveryFailureStatus:
		return "unexpected status"
	case DiscoveryFailureInvalidJSON:
		return "invalid JSON"
	case DiscoveryFailureMissingField:
		return "missing required field"
	default:
		return "unknown"
	}
}

// DiscoveryError reports a metadata fetch or parse failure. It carries the
// URL that failed and enough classification for the caller to surface a
// message the user can act on.
type DiscoveryError struct {
	URL     string
	Failure DiscoveryFailure
	Status  int    // set when Failure is DiscoveryFailureStatus
	Field   string // set when Failure is DiscoveryFailureMissingField
	Err     error
}

func (e *DiscoveryError) Error() string {
	switch e.Failure {
	case DiscoveryFailureStatus:
		return fmt.Sprintf("oauth discovery failed for %s: unexpected status %d", e.URL, e.Status)
	case DiscoveryFailureMissingField:
		return fmt.Sprintf("oauth discovery document at %s missing required field %q", e.URL, e.Field)
	case DiscoveryFailureInvalidJSON:
		return fmt.Sprintf("oauth discovery document at %s is not valid JSON: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("oauth discovery request failed for %s: %v", e.URL, e.Err)
	}
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// IsDiscoveryError reports whether err is (or wraps) a DiscoveryError.
func IsDiscoveryError(err error) bool {
	var de *DiscoveryError
	return errors.As(err, &de)
}

// RegistrationError reports a dynamic client registration failure.
// Registration is never retried: a client record is created per call, so the
// caller decides whether registering again is appropriate.
type RegistrationError struct {
	Status  int
	Hint    string // human-readable diagnosis (HTML response, auth required, ...)
	Snippet string // truncated response body for diagnostics
	Err     error
}

func (e *RegistrationError) Error() string {
	msg := "client registration failed"
	if e.Status != 0 {
		msg = fmt.Sprintf("%s with status %d", msg, e.Status)
	}
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	if e.Err != nil && e.Hint == "" {
		msg += ": " + e.Err.Error()
	}
	if e.Snippet != "" {
		msg += " (body preview: " + e.Snippet + ")"
	}
	return msg
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// FlowFailure classifies a flow state machine violation.
type FlowFailure int

const (
	// FlowFailureStateMissing means no persisted flow state was found: the
	// flow expired, ran in a different session, or was already consumed.
	FlowFailureStateMissing FlowFailure = iota

	// FlowFailureStateMismatch means the state returned on the callback did
	// not match the persisted state (possible CSRF).
	FlowFailureStateMismatch

	// FlowFailureClientIDMissing means neither the persisted state nor the
	// caller supplied a client_id.
	FlowFailureClientIDMissing

	// FlowFailureAccessTokenMissing means the token endpoint responded
	// without an access_token.
	FlowFailureAccessTokenMissing
)

// FlowError reports an authorization flow violation. All flow errors fail
// closed: no token exchange happens once one is detected.
type FlowError struct {
	Flow    FlowName
	Failure FlowFailure
}

func (e *FlowError) Error() string {
	switch e.Failure {
	case FlowFailureStateMismatch:
		return fmt.Sprintf("oauth flow %q: state mismatch detected; restart the authorization process", e.Flow)
	case FlowFailureClientIDMissing:
		return fmt.Sprintf("oauth flow %q: client_id missing; restart the authorization process", e.Flow)
	case FlowFailureAccessTokenMissing:
		return fmt.Sprintf("oauth flow %q: token response missing access_token", e.Flow)
	default:
		return fmt.Sprintf("oauth flow %q: flow state missing; restart the authorization process", e.Flow)
	}
}

// IsFlowFailure reports whether err is a FlowError with the given failure.
func IsFlowFailure(err error, failure FlowFailure) bool {
	var fe *FlowError
	return errors.As(err, &fe) && fe.Failure == failure
}

// TokenExchangeError reports a non-2xx response from the token endpoint.
// The status, reason and a truncated body are preserved so the caller can
// render them.
type TokenExchangeError struct {
	Endpoint string
	Status   int
	Reason   string
	Body     string
}

func (e *TokenExchangeError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("token request to %s failed: %d %s: %s", e.Endpoint, e.Status, e.Reason, e.Body)
	}
	return fmt.Sprintf("token request to %s failed: %d %s", e.Endpoint, e.Status, e.Reason)
}
