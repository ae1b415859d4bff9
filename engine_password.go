package goAccount

import (
	"context"
	"errors"
	"net/url"

	"github.com/MrEthical07/goAccount/apperr"
	"github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/internal/logging"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/token"
	"github.com/MrEthical07/goAccount/user"
	"go.uber.org/zap"
)

// RequestPasswordReset mails a reset link to the account registered under
// email. Earlier reset tokens are deleted first, so only the newest link
// works.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := e.findUserByEmail(ctx, email)
	if err != nil {
		return e.fail("request password reset", err)
	}

	n, err := e.tokens.DeleteForUser(ctx, u.ID, token.ForgottenPassword)
	if err != nil {
		return e.fail("request password reset", err)
	}
	if n > 0 {
		e.log.Info("superseded password reset token", logging.UserID(u.ID), zap.Int("removed", n))
	}

	tok, err := e.tokens.CreateToken(ctx, u.ID, e.cfg.Tokens.VerificationTTL, token.ForgottenPassword)
	if err != nil {
		return e.fail("request password reset", err)
	}
	link, err := buildLink(e.cfg.Links.PasswordResetURI, url.Values{
		"email": {u.Email},
		"token": {tok.Value},
	})
	if err != nil {
		return e.fail("request password reset", err)
	}
	return e.fail("request password reset", e.sendMail(ctx, "password reset", mail.Message{
		To:      u.Email,
		Subject: e.cfg.App.Name + " " + e.messages.Message(MsgPasswordResetSubject),
		Body:    e.messages.Message(MsgPasswordResetBody, link),
	}))
}

// ResetPassword sets a new password using the newest reset token of the
// account registered under in.Email. Any other value, including an older
// token, fails with ErrInvalidToken.
func (e *Engine) ResetPassword(ctx context.Context, in PasswordReset) error {
	u, err := e.findUserByEmail(ctx, in.Email)
	if err != nil {
		return e.fail("reset password", err)
	}

	latest, err := e.tokens.FindLatest(ctx, u.ID, token.ForgottenPassword)
	if errors.Is(err, token.ErrNotFound) || (err == nil && latest.Value != in.Token) {
		return apperr.ErrInvalidToken
	}
	if err != nil {
		return e.fail("reset password", err)
	}

	hash, err := e.hasher.Hash(in.NewPassword)
	if err != nil {
		return e.fail("reset password hash", err)
	}
	_, err = e.redeemRecord(ctx, latest, func(next *user.User) error {
		next.PasswordHash = hash
		return nil
	})
	if err != nil {
		return e.fail("reset password", err)
	}
	e.emit(ctx, audit.Event{Type: audit.PasswordChanged, UserID: u.ID, Method: "reset", Success: true})
	return nil
}

// ChangePassword replaces the password of userID after checking current.
// A mismatch fails with ErrUnauthorized.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return e.fail("change password", err)
	}
	if u.PasswordHash == "" {
		return apperr.ErrUnauthorized
	}
	ok, err := e.hasher.Verify(current, u.PasswordHash)
	if err != nil {
		return e.fail("change password", err)
	}
	if !ok {
		return apperr.ErrUnauthorized
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return e.fail("change password", err)
	}
	// The checked hash must still be current when the new one is written.
	_, err = e.updateUser(ctx, u.ID, "change password", func(next *user.User) error {
		if next.PasswordHash != u.PasswordHash {
			return apperr.ErrUnauthorized
		}
		next.PasswordHash = hash
		return nil
	})
	if err != nil {
		return e.fail("change password save", err)
	}
	e.emit(ctx, audit.Event{Type: audit.PasswordChanged, UserID: u.ID, Method: "change", Success: true})
	return nil
}
