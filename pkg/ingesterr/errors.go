package ingesterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error. The set is closed; KindUnknown only appears when
// parsing row error text that carries no recognised prefix.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindAuthentication
	KindConnection
	KindConversion
	KindTransmission
	KindRetryExhausted
	KindTokenRefresh
)

// Kinds lists every classified kind in declaration order.
var Kinds = []Kind{
	KindConfiguration,
	KindAuthentication,
	KindConnection,
	KindConversion,
	KindTransmission,
	KindRetryExhausted,
	KindTokenRefresh,
}

var kindNames = map[Kind]string{
	KindUnknown:        "Unknown",
	KindConfiguration:  "ConfigurationError",
	KindAuthentication: "AuthenticationError",
	KindConnection:     "ConnectionError",
	KindConversion:     "ConversionError",
	KindTransmission:   "TransmissionError",
	KindRetryExhausted: "RetryExhausted",
	KindTokenRefresh:   "TokenRefreshError",
}

// String returns the tag used in serialised row errors, e.g. "ConversionError".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a tag back to its Kind. Unrecognised tags return
// KindUnknown and false.
func ParseKind(tag string) (Kind, bool) {
	for _, k := range Kinds {
		if kindNames[k] == tag {
			return k, true
		}
	}
	return KindUnknown, false
}

// Sentinels usable with errors.Is to test an error's kind.
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrConnection     = &Error{Kind: KindConnection}
	ErrConversion     = &Error{Kind: KindConversion}
	ErrTransmission   = &Error{Kind: KindTransmission}
	ErrRetryExhausted = &Error{Kind: KindRetryExhausted}
	ErrTokenRefresh   = &Error{Kind: KindTokenRefresh}
)

// Error is a classified process-level failure.
type Error struct {
	Kind    Kind
	Message string

	// Temporary marks failures of an otherwise non-retryable kind that are
	// expected to clear on their own, such as an access token that expired
	// mid-flight or a token endpoint that was briefly unreachable.
	Temporary bool

	// Err is the underlying cause, if any.
	Err error
}

// New returns an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Transient returns a copy of e marked Temporary.
func (e *Error) Transient() *Error {
	c := *e
	c.Temporary = true
	return &c
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	return e.Kind.String() + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a kind sentinel (an *Error with no message
// and no cause) of the same kind as e.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the engine may retry the operation that failed
// with e. ConnectionError is always retryable; ConfigurationError,
// ConversionError and RetryExhausted never are; the remaining kinds are
// retryable only when marked Temporary.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConnection:
		return true
	case KindConfiguration, KindConversion, KindRetryExhausted:
		return false
	default:
		return e.Temporary
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As returns the first *Error in err's chain. Errors that carry no
// classification are wrapped as ConnectionError, matching how the engine
// treats unexpected transport failures.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindConnection, err, "unclassified transport failure")
}
