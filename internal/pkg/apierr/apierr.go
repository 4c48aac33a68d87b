package apierr

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies one class of failure raised by the client. The set is
// closed: callers branch on kinds instead of inspecting raw status codes.
type Kind int

const (
	KindAuth Kind = iota
	KindRateLimited
	KindSessionExpired
	KindValidation
	KindHTTP
	KindNetwork
	KindTimeout
	KindDeviceNotFound
	KindFeatureNotSupported
	KindConfig
	KindParse
)

var kindNames = []string{
	"authentication",
	"rate-limited",
	"session-expired",
	"validation",
	"http",
	"network",
	"timeout",
	"device-not-found",
	"feature-not-supported",
	"configuration",
	"parse",
}

func (k Kind) String() string {
	if int(k) >= len(kindNames) {
		return fmt.Sprintf("unknown (kind: %d)", k)
	}
	return kindNames[k]
}

// Error carries a kind plus enough structured context for the caller to act
// on the failure without a further server round trip.
type Error struct {
	Kind    Kind
	Message string

	// Optional context, populated per kind
	Field  string        // validation: the offending parameter
	Value  interface{}   // validation: the rejected value
	Status int           // http: response status code
	Wait   time.Duration // rate-limited: remaining lockout time

	Err error // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	switch e.Kind {
	case KindValidation:
		if e.Field != "" {
			return fmt.Sprintf("%s: %s [%s=%v]", e.Kind, msg, e.Field, e.Value)
		}
	case KindHTTP:
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, msg)
	case KindRateLimited:
		return fmt.Sprintf("%s: %s (retry in %s)", e.Kind, msg, e.Wait.Round(time.Second))
	}

	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind, preserving the cause for errors.Is/As.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of err, or ok=false if err is not from this
// taxonomy.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func is(err error, kinds ...Kind) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// IsAuthentication matches the authentication kind and its two subtypes,
// rate-limited and session-expired.
func IsAuthentication(err error) bool {
	return is(err, KindAuth, KindRateLimited, KindSessionExpired)
}

func IsRateLimited(err error) bool    { return is(err, KindRateLimited) }
func IsSessionExpired(err error) bool { return is(err, KindSessionExpired) }
func IsValidation(err error) bool     { return is(err, KindValidation) }
func IsDeviceNotFound(err error) bool { return is(err, KindDeviceNotFound) }
func IsNotSupported(err error) bool   { return is(err, KindFeatureNotSupported) }
func IsParse(err error) bool          { return is(err, KindParse) }

// IsServerError matches HTTP failures with a 5xx status.
func IsServerError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindHTTP && e.Status >= 500
	}
	return false
}

// IsRetryable reports whether a transport-level retry can plausibly succeed:
// network failures, timeouts and server errors. Authentication and client
// errors are never retryable.
func IsRetryable(err error) bool {
	if is(err, KindNetwork, KindTimeout) {
		return true
	}
	return IsServerError(err)
}
