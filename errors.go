package goAccount

import "github.com/MrEthical07/goAccount/apperr"

// Error is the type of every error returned by Engine methods.
type Error = apperr.Error

// Engine errors. Compare with errors.Is; matching is on kind and reason key.
var (
	ErrUnauthorized            = apperr.ErrUnauthorized
	ErrInvalidToken            = apperr.ErrInvalidToken
	ErrTokenExpired            = apperr.ErrTokenExpired
	ErrEmailInUse              = apperr.ErrEmailInUse
	ErrUsernameInUse           = apperr.ErrUsernameInUse
	ErrInvalidVerificationCode = apperr.ErrInvalidVerificationCode
	ErrInvalidRecoveryCode     = apperr.ErrInvalidRecoveryCode
	ErrAccountNotActivated     = apperr.ErrAccountNotActivated
	ErrUserNotFound            = apperr.ErrUserNotFound
	ErrEmailNotFromProvider    = apperr.ErrEmailNotFromProvider
	ErrInternal                = apperr.ErrInternal
)
