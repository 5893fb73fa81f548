package remote

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to the user. They are never collapsed into a generic
// sync failure.
//
//	if errors.Is(err, remote.ErrRemoteAuth) {
//	    // send the user to the account settings
//	}
var (
	// ErrRemoteAuth is returned when the server rejects the credentials.
	ErrRemoteAuth = errors.New("remote authentication failed")

	// ErrRemoteCapabilityMissing is returned when the server lacks the
	// optional versioning or trash component.
	ErrRemoteCapabilityMissing = errors.New("remote capability missing")

	// ErrRemoteTransport is returned for network failures, server errors
	// and malformed responses.
	ErrRemoteTransport = errors.New("remote transport failed")

	// ErrRemoteNotFound is returned when a version or trash entry no longer
	// exists on the server.
	ErrRemoteNotFound = errors.New("remote entry not found")

	// ErrUntrackedPath is returned when a server trash entry would be
	// restored to a path the folder does not hold notes at, such as the
	// cache or trash directory.
	ErrUntrackedPath = errors.New("path is not a note location")

	// ErrNotConfigured is returned when no server URL is set.
	ErrNotConfigured = errors.New("remote server not configured")
)

// Kind classifies an *Error.
type Kind int

const (
	KindTransport Kind = iota
	KindAuth
	KindCapabilityMissing
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindCapabilityMissing:
		return "capability_missing"
	case KindNotFound:
		return "not_found"
	default:
		return "transport"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrRemoteAuth
	case KindCapabilityMissing:
		return ErrRemoteCapabilityMissing
	case KindNotFound:
		return ErrRemoteNotFound
	default:
		return ErrRemoteTransport
	}
}

// Error is a failed remote operation.
type Error struct {
	Kind   Kind
	Op     string // e.g. "list versions"
	Status int    // HTTP status, 0 when no response arrived
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind.sentinel())
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

// NextStep is a short instruction for the user.
func (e *Error) NextStep() string {
	switch e.Kind {
	case KindAuth:
		return "Check the server username and password in settings."
	case KindCapabilityMissing:
		return "The server does not offer this feature; local note taking continues to work."
	case KindNotFound:
		return "Refresh the list; the entry was removed on the server."
	default:
		return "Retry when the server is reachable, or continue offline."
	}
}

// NextStep returns the user instruction for err, or "" if err is not a
// remote error.
func NextStep(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.NextStep()
	}
	if errors.Is(err, ErrNotConfigured) {
		return "Set a server URL in settings to use remote features."
	}
	return ""
}

func transportError(op string, status int, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Status: status, Err: err}
}

func missing(op, capability string) *Error {
	return &Error{Kind: KindCapabilityMissing, Op: op, Err: fmt.Errorf("server has no %s support", capability)}
}
