package goAccount

import (
	"context"
	"net/url"

	"github.com/MrEthical07/goAccount/apperr"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/token"
	"github.com/MrEthical07/goAccount/user"
)

// RequestEmailChange records newEmail as pending for userID and mails a
// confirmation link to it. Any earlier pending change is superseded.
//
// The account keeps its current email until ConfirmEmailChange. A failed
// mail leaves the pending change in place and returns a transient error, so
// the caller can simply ask again.
func (e *Engine) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return e.fail("request email change", err)
	}
	if newEmail == "" || newEmail == u.Email {
		return nil
	}
	if err := e.ensureEmailFree(ctx, newEmail); err != nil {
		return e.fail("request email change", err)
	}

	next, err := e.updateUser(ctx, u.ID, "request email change", func(next *user.User) error {
		next.PendingEmail = newEmail
		return nil
	})
	if err != nil {
		return e.fail("request email change save", err)
	}
	return e.fail("request email change", e.issueEmailChange(ctx, next))
}

// ConfirmEmailChange redeems an EMAIL_UPDATE token and moves the pending
// email into place. It fails with ErrEmailInUse, leaving the token usable,
// when another account took the address in the meantime.
func (e *Engine) ConfirmEmailChange(ctx context.Context, value string) (*user.User, error) {
	u, err := e.redeem(ctx, value, token.EmailUpdate, func(next *user.User) error {
		if next.PendingEmail == "" {
			return apperr.ErrInvalidToken
		}
		if err := e.ensureEmailFree(ctx, next.PendingEmail); err != nil {
			return err
		}
		next.Email = next.PendingEmail
		next.PendingEmail = ""
		return nil
	})
	if err != nil {
		return nil, e.fail("confirm email change", err)
	}
	return u, nil
}

// issueEmailChange issues the EMAIL_UPDATE token for u.PendingEmail and
// mails the link to the new address.
func (e *Engine) issueEmailChange(ctx context.Context, u *user.User) error {
	tok, err := e.tokens.CreateToken(ctx, u.ID, e.cfg.Tokens.VerificationTTL, token.EmailUpdate)
	if err != nil {
		return err
	}
	link, err := buildLink(e.cfg.Links.EmailChangeURI, url.Values{"token": {tok.Value}})
	if err != nil {
		return err
	}
	return e.sendMail(ctx, "email change", mail.Message{
		To:      u.PendingEmail,
		Subject: e.messages.Message(MsgEmailChangeSubject, e.cfg.App.Name),
		Body:    e.messages.Message(MsgEmailChangeBody, u.Email, u.PendingEmail, link),
	})
}
