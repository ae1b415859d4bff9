// Package apperr defines the error kinds and stable reason keys surfaced by
// goAccount APIs. Callers localize the key; the message text is diagnostic only.
package apperr

import (
	"errors"
	"strings"
)

// Kind classifies a failure for the boundary layer.
type Kind string

const (
	// KindUnauthorized covers bad credentials and mismatched secrets.
	KindUnauthorized Kind = "unauthorized"
	// KindBadRequest covers token state, conflicts and invalid codes. Always carries a key.
	KindBadRequest Kind = "bad_request"
	// KindProviderConflict reports a federated identity already bound to another provider.
	KindProviderConflict Kind = "provider_conflict"
	// KindTransient reports a downstream failure (mail, avatar host).
	KindTransient Kind = "transient"
	// KindInternal is the generic failure returned when anything unexpected happens.
	KindInternal Kind = "internal"
)

// Stable reason keys.
const (
	KeyUnauthorized              = "unauthorized"
	KeyInvalidToken              = "invalidToken"
	KeyTokenExpired              = "tokenExpired"
	KeyEmailInUse                = "emailInUse"
	KeyUsernameInUse             = "usernameInUse"
	KeyInvalidVerificationCode   = "invalidVerificationCode"
	KeyInvalidRecoveryCode       = "invalidRecoveryCode"
	KeyAccountNotActivated       = "accountNotActivated"
	KeyUserNotFound              = "userNotFound"
	KeyEmailNotFromProvider      = "emailNotFoundFromO2Auth"
	KeyAlreadyHaveRegularAccount = "alreadyHaveRegularAccount"
	KeyAlreadyHaveAccount        = "alreadyHaveAccount"
	KeyTransientFailure          = "transientFailure"
	KeySomethingWrong            = "somethingWrong"
)

// Error is the error value returned across goAccount component boundaries.
type Error struct {
	Kind Kind
	Key  string

	// Set only for KindProviderConflict.
	ExistingProvider string
	ExistingEmail    string

	msg   string
	cause error
}

// New builds an error of the given kind and key.
func New(kind Kind, key, msg string) *Error {
	return &Error{Kind: kind, Key: key, msg: msg}
}

// ProviderConflict builds the conflict error for an account already owned by existingProvider.
func ProviderConflict(existingProvider, existingEmail string) *Error {
	key := KeyAlreadyHaveAccount
	if existingProvider == "local" {
		key = KeyAlreadyHaveRegularAccount
	}
	return &Error{
		Kind:             KindProviderConflict,
		Key:              key,
		ExistingProvider: existingProvider,
		ExistingEmail:    existingEmail,
		msg:              "account already registered with provider " + existingProvider,
	}
}

// Transient wraps a downstream failure.
func Transient(cause error) *Error {
	return &Error{Kind: KindTransient, Key: KeyTransientFailure, msg: "downstream failure", cause: cause}
}

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Key)
	if e.msg != "" {
		b.WriteString(": ")
		b.WriteString(e.msg)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches on kind and key so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Key == t.Key
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// KeyOf returns the reason key of err, or KeySomethingWrong.
func KeyOf(err error) string {
	if e, ok := As(err); ok {
		return e.Key
	}
	return KeySomethingWrong
}

var (
	ErrUnauthorized            = New(KindUnauthorized, KeyUnauthorized, "bad credentials")
	ErrInvalidToken            = New(KindBadRequest, KeyInvalidToken, "token not recognized")
	ErrTokenExpired            = New(KindBadRequest, KeyTokenExpired, "token expired")
	ErrEmailInUse              = New(KindBadRequest, KeyEmailInUse, "email already registered")
	ErrUsernameInUse           = New(KindBadRequest, KeyUsernameInUse, "username already taken")
	ErrInvalidVerificationCode = New(KindBadRequest, KeyInvalidVerificationCode, "verification code rejected")
	ErrInvalidRecoveryCode     = New(KindBadRequest, KeyInvalidRecoveryCode, "recovery code rejected")
	ErrAccountNotActivated     = New(KindBadRequest, KeyAccountNotActivated, "account not activated")
	ErrUserNotFound            = New(KindBadRequest, KeyUserNotFound, "user not found")
	ErrEmailNotFromProvider    = New(KindBadRequest, KeyEmailNotFromProvider, "identity provider returned no email")
	ErrInternal                = New(KindInternal, KeySomethingWrong, "internal error")
)
