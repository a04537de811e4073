package mock

import (
	"errors"
	"strings"
)

// Kind classifies a failure of the resolution pipeline.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNoMatch: no precedence stage produced a response.
	KindNoMatch
	// KindValidation: a request or response violates its declared schema.
	KindValidation
	// KindFixtureCorrupt: a fixture file could not be decoded. Treated as a miss.
	KindFixtureCorrupt
	// KindUpstreamUnavailable: the proxy upstream timed out or refused.
	KindUpstreamUnavailable
	// KindSessionProtocol: a malformed frame on one WebSocket session.
	KindSessionProtocol
	// KindConfigInvalid: load-time configuration error.
	KindConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNoMatch:
		return "NoMatch"
	case KindValidation:
		return "ValidationError"
	case KindFixtureCorrupt:
		return "FixtureCorrupt"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	case KindSessionProtocol:
		return "SessionProtocolViolation"
	case KindConfigInvalid:
		return "ConfigInvalid"
	default:
		return "Unknown"
	}
}

// Code is the snake_case form used in JSON error bodies.
func (k Kind) Code() string {
	switch k {
	case KindNoMatch:
		return "no_match"
	case KindValidation:
		return "validation_error"
	case KindFixtureCorrupt:
		return "fixture_corrupt"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindSessionProtocol:
		return "session_protocol_violation"
	case KindConfigInvalid:
		return "config_invalid"
	default:
		return "internal_error"
	}
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrNoMatch             = &Error{Kind: KindNoMatch}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrFixtureCorrupt      = &Error{Kind: KindFixtureCorrupt}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrSessionProtocol     = &Error{Kind: KindSessionProtocol}
	ErrConfigInvalid       = &Error{Kind: KindConfigInvalid}
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "proxy.forward".
	Op      string
	Message string
	// Details holds per-item messages (validation causes, config problems).
	Details []string
	Err     error
}

// NewError creates an error of the given kind.
func NewError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
