package errors

import "fmt"

// Kind enumerates the error taxonomy: every core operation either returns a
// success result or a structured Error carrying one of these kinds.
type Kind int

const (
	KindConfigInvalid Kind = iota
	KindUnknownAlias
	KindUnknownSession
	KindTransport
	KindEnipProtocol
	KindMalformedFrame
	KindPoolTimeout
	KindPoolClosed
	KindSessionClosed
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindUnknownAlias:
		return "UnknownAlias"
	case KindUnknownSession:
		return "UnknownSession"
	case KindTransport:
		return "Transport"
	case KindEnipProtocol:
		return "EnipProtocol"
	case KindMalformedFrame:
		return "MalformedFrame"
	case KindPoolTimeout:
		return "PoolTimeout"
	case KindPoolClosed:
		return "PoolClosed"
	case KindSessionClosed:
		return "SessionClosed"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the core's structured error type. CIP-level errors (general
// status != 0) are never represented this way — they are a Status value
// embedded in the success result.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, errors.KindKey(KindTransport))-style matching
// against a sentinel produced by KindKey.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Message == "" && other.Kind == e.Kind
}

// KindKey returns a sentinel *Error usable with errors.Is to match on Kind
// alone, ignoring Message/Cause.
func KindKey(kind Kind) error {
	return &Error{Kind: kind}
}
