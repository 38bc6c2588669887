package identity

import (
	"errors"
	"fmt"
)

// Kind classifies failures of the sign-in core.
type Kind string

const (
	// KindValidation marks a malformed request. Never reaches the network
	// and never changes session state.
	KindValidation Kind = "validation"
	// KindSignInIncomplete means the provider flow stopped before a signed-in
	// state, e.g. an additional challenge the client does not support.
	KindSignInIncomplete Kind = "sign_in_incomplete"
	// KindProviderFailure is a transport or provider-side error on any call.
	KindProviderFailure Kind = "provider_failure"
	// KindTokenExpired means the provider reported the external token as
	// expired by the time the exchange was attempted.
	KindTokenExpired Kind = "token_expired"
	// KindConcurrentAttempt rejects a second exchange while one is in
	// flight. A signal to the specific caller, not a session state.
	KindConcurrentAttempt Kind = "concurrent_attempt"
	// KindTimeout marks an exchange abandoned by the forced timeout bound.
	KindTimeout Kind = "timeout"
)

// Error is the typed failure of the sign-in core.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match against the kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// Kind sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrSignInIncomplete  = &Error{Kind: KindSignInIncomplete}
	ErrProviderFailure   = &Error{Kind: KindProviderFailure}
	ErrTokenExpired      = &Error{Kind: KindTokenExpired}
	ErrConcurrentAttempt = &Error{Kind: KindConcurrentAttempt}
	ErrTimeout           = &Error{Kind: KindTimeout}
)

// KindOf extracts the Kind from err, or KindProviderFailure for anything
// untyped that bubbled up from below.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindProviderFailure
}
