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
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Signup creates a local, unactivated account and mails its activation link.
//
// The email and name must both be free; ErrEmailInUse is checked before
// ErrUsernameInUse and nothing is written when either fails. If the
// activation token cannot be issued the new account is removed again. A
// failed activation mail is logged but does not undo the signup.
func (e *Engine) Signup(ctx context.Context, in Signup) (*user.User, error) {
	if err := e.ensureFree(ctx, in.Email, in.Name); err != nil {
		return nil, e.fail("signup", err)
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, e.fail("signup hash", err)
	}

	u := &user.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Provider:     user.ProviderLocal,
		Role:         user.RoleUser,
		ImageID:      e.cfg.Federation.DefaultImage,
	}
	if err := e.users.Save(ctx, u); err != nil {
		if errors.Is(err, user.ErrDuplicate) {
			return nil, e.fail("signup", e.duplicateReason(ctx, in.Email))
		}
		return nil, e.fail("signup save", err)
	}

	tok, err := e.tokens.CreateToken(ctx, u.ID, e.cfg.Tokens.VerificationTTL, token.AccountActivation)
	if err != nil {
		e.removePartial(ctx, u.ID)
		return nil, e.fail("signup token", err)
	}

	link, err := buildLink(e.cfg.Links.ActivationURI, url.Values{"token": {tok.Value}})
	if err != nil {
		e.removePartial(ctx, u.ID)
		return nil, e.fail("signup link", err)
	}
	_ = e.sendMail(ctx, "signup", mail.Message{
		To:      u.Email,
		Subject: e.cfg.App.Name + " " + e.messages.Message(MsgActivateAccountSubject),
		Body:    e.messages.Message(MsgActivateAccountBody, link),
	})

	e.emit(ctx, audit.Event{Type: audit.AccountCreated, UserID: u.ID, Method: methodPassword, Success: true})
	return u.Clone(), nil
}

// ActivateAccount redeems an ACCOUNT_ACTIVATION token and marks the email
// verified. A token activates at most once.
func (e *Engine) ActivateAccount(ctx context.Context, value string) (*user.User, error) {
	u, err := e.redeem(ctx, value, token.AccountActivation, func(next *user.User) error {
		next.EmailVerified = true
		return nil
	})
	if err != nil {
		return nil, e.fail("activate account", err)
	}
	return u, nil
}

// UpdateProfile applies a changed name directly and starts the email change
// flow for a changed email. The new name and email are checked for
// uniqueness before anything is saved.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*user.User, error) {
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return nil, e.fail("update profile", err)
	}

	nameChanged := in.Name != "" && in.Name != u.Name
	emailChanged := in.Email != "" && in.Email != u.Email

	if emailChanged {
		if err := e.ensureEmailFree(ctx, in.Email); err != nil {
			return nil, e.fail("update profile", err)
		}
	}
	if nameChanged {
		if err := e.ensureNameFree(ctx, in.Name); err != nil {
			return nil, e.fail("update profile", err)
		}
	}
	if !nameChanged && !emailChanged {
		return u, nil
	}

	next, err := e.updateUser(ctx, userID, "update profile", func(next *user.User) error {
		if nameChanged {
			next.Name = in.Name
		}
		if emailChanged {
			next.PendingEmail = in.Email
		}
		return nil
	})
	if errors.Is(err, user.ErrDuplicate) {
		return nil, apperr.ErrUsernameInUse
	}
	if err != nil {
		return nil, e.fail("update profile save", err)
	}

	if emailChanged {
		if err := e.issueEmailChange(ctx, next); err != nil && !isTransient(err) {
			return nil, e.fail("update profile email", err)
		}
	}
	return next, nil
}

// CancelAccount deletes every token of userID, then its recovery codes, then
// the account itself. Each step tolerates missing data, so cancelling twice
// succeeds.
func (e *Engine) CancelAccount(ctx context.Context, userID string) error {
	if userID == "" {
		return apperr.ErrUserNotFound
	}
	if err := e.tokens.DeleteAllForUser(ctx, userID); err != nil {
		return e.fail("cancel account tokens", err)
	}
	if err := e.twoFactor.DeleteRecoveryCodes(ctx, userID); err != nil {
		return e.fail("cancel account recovery codes", err)
	}
	if err := e.users.Delete(ctx, userID); err != nil && !errors.Is(err, user.ErrNotFound) {
		return e.fail("cancel account user", err)
	}
	e.emit(ctx, audit.Event{Type: audit.AccountCancelled, UserID: userID, Success: true})
	e.log.Info("account cancelled", logging.UserID(userID))
	return nil
}

// redeem runs a single-use token flow: look the token up, check it,
// prepare the change on a copy of its owner, claim the token and save.
func (e *Engine) redeem(ctx context.Context, value string, typ token.Type, apply func(*user.User) error) (*user.User, error) {
	if value == "" {
		return nil, apperr.ErrInvalidToken
	}
	tok, err := e.tokens.Find(ctx, value, typ)
	if errors.Is(err, token.ErrNotFound) {
		return nil, apperr.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return e.redeemRecord(ctx, tok, apply)
}

// redeemRecord is redeem for a record already looked up. apply first runs on
// a copy before the claim, so a rejected change leaves the token usable. It
// then runs again inside the atomic update of the owner; if that fails after
// the claim, the token is restored.
func (e *Engine) redeemRecord(ctx context.Context, tok *token.SecurityToken, apply func(*user.User) error) (*user.User, error) {
	if !e.tokens.Validate(tok.Value) {
		e.discard(ctx, tok)
		return nil, apperr.ErrTokenExpired
	}

	u, err := e.findUser(ctx, tok.UserID)
	if errors.Is(err, apperr.ErrUserNotFound) {
		e.discard(ctx, tok)
		return nil, apperr.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if err := apply(u.Clone()); err != nil {
		return nil, err
	}

	if err := e.claim(ctx, tok); err != nil {
		return nil, err
	}

	next, err := e.updateUser(ctx, u.ID, "redeem "+string(tok.Type), apply)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, apperr.ErrUserNotFound):
		return nil, apperr.ErrInvalidToken
	}
	e.restore(ctx, tok)
	// Only the email change flow touches a unique column here.
	if errors.Is(err, user.ErrDuplicate) {
		return nil, apperr.ErrEmailInUse
	}
	return nil, err
}

// claim checks tok and atomically deletes it. An invalid token is removed
// and reported as ErrTokenExpired; losing the delete to a concurrent caller
// is ErrInvalidToken.
func (e *Engine) claim(ctx context.Context, tok *token.SecurityToken) error {
	if !e.tokens.Validate(tok.Value) {
		e.discard(ctx, tok)
		return apperr.ErrTokenExpired
	}
	ok, err := e.tokens.Consume(ctx, tok)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrInvalidToken
	}
	e.emit(ctx, audit.Event{Type: audit.TokenConsumed, UserID: tok.UserID, TokenType: string(tok.Type), Success: true})
	return nil
}

func (e *Engine) discard(ctx context.Context, tok *token.SecurityToken) {
	if err := e.tokens.Delete(ctx, tok); err != nil {
		e.log.Warn("invalid token not removed",
			append([]zap.Field{logging.UserID(tok.UserID), logging.TokenType(string(tok.Type))}, logging.Err(err)...)...)
	}
}

func (e *Engine) restore(ctx context.Context, tok *token.SecurityToken) {
	if err := e.tokens.Restore(ctx, tok); err != nil {
		e.log.Warn("token restore failed",
			append([]zap.Field{logging.UserID(tok.UserID), logging.TokenType(string(tok.Type))}, logging.Err(err)...)...)
	}
}

func (e *Engine) removePartial(ctx context.Context, userID string) {
	if _, err := e.tokens.DeleteForUser(ctx, userID, token.AccountActivation); err != nil {
		e.log.Warn("partial signup token not removed", append([]zap.Field{logging.UserID(userID)}, logging.Err(err)...)...)
	}
	if err := e.users.Delete(ctx, userID); err != nil {
		e.log.Error("partial signup not removed", append([]zap.Field{logging.UserID(userID)}, logging.Err(err)...)...)
	}
}

func (e *Engine) ensureFree(ctx context.Context, email, name string) error {
	if err := e.ensureEmailFree(ctx, email); err != nil {
		return err
	}
	return e.ensureNameFree(ctx, name)
}

func (e *Engine) ensureEmailFree(ctx context.Context, email string) error {
	taken, err := e.users.ExistsByEmail(ctx, email)
	if err != nil {
		return directoryErr(err, "exists by email")
	}
	if taken {
		return apperr.ErrEmailInUse
	}
	return nil
}

func (e *Engine) ensureNameFree(ctx context.Context, name string) error {
	taken, err := e.users.ExistsByName(ctx, name)
	if err != nil {
		return directoryErr(err, "exists by name")
	}
	if taken {
		return apperr.ErrUsernameInUse
	}
	return nil
}

// duplicateReason tells which unique column a concurrent signup won.
func (e *Engine) duplicateReason(ctx context.Context, email string) error {
	if err := e.ensureEmailFree(ctx, email); err != nil {
		return err
	}
	return apperr.ErrUsernameInUse
}

func buildLink(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isTransient(err error) bool {
	return apperr.KindOf(err) == apperr.KindTransient
}
