package errorsx

import (
	"errors"
	"fmt"
)

// Error wraps an error with a kind and the subsystem it originated from.
type Error struct {
	Kind      Kind
	Subsystem string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches a kind to an error (no-op if err is nil or already classified).
func Wrap(err error, kind Kind, subsystem string) error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return err
	}
	return &Error{Kind: kind, Subsystem: subsystem, Err: err}
}

// KindOf extracts the kind from an error, if present.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

// SubsystemOf returns the originating subsystem, or "" when unknown.
func SubsystemOf(err error) string {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Subsystem
	}
	return ""
}

// HasKind returns true if err carries the given kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

func NotFound(what, id string) error {
	return &Error{Kind: KindNotFound, Err: fmt.Errorf("%s %q not found", what, id)}
}

// Provider wraps a speech provider failure, keeping the upstream message.
func Provider(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindProvider, Subsystem: SubsystemSpeech, Err: fmt.Errorf("%s: %w", provider, err)}
}

// Telephony wraps a control-channel failure, keeping the raw diagnostic text.
func Telephony(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTelephony, Subsystem: SubsystemTelephony, Err: err}
}

func Storage(subsystem string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, Subsystem: subsystem, Err: err}
}
