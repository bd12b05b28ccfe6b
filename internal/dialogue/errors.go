package dialogue

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindBackendUnavailable    Kind = "BACKEND_UNAVAILABLE"
	KindBackendRunFailed      Kind = "BACKEND_RUN_FAILED"
	KindDeliveryFailed        Kind = "DELIVERY_FAILED"
	KindTranscriptWriteFailed Kind = "TRANSCRIPT_WRITE_FAILED"
	// KindInternal marks a recovered panic; the state it happened in is
	// recorded alongside.
	KindInternal Kind = "INTERNAL"
)

type Error struct {
	Kind     Kind
	Identity string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("dialogue: %s (%s)", e.Kind, e.Identity)
	}
	return fmt.Sprintf("dialogue: %s (%s): %v", e.Kind, e.Identity, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind Kind, identity string, err error) *Error {
	return &Error{Kind: kind, Identity: identity, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
