package goAccount

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAccount/apperr"
	"github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/internal/logging"
	"github.com/MrEthical07/goAccount/token"
	"github.com/MrEthical07/goAccount/user"
	"go.uber.org/zap"
)

const (
	methodPassword  = "password"
	methodTOTP      = "totp"
	methodRecovery  = "recovery_code"
	methodFederated = "federated"
	methodRefresh   = "refresh"
)

// Login checks a local email and password and opens a session. The refresh
// token is set as a cookie on rc.
//
// An unknown email, a federated account and a wrong password all fail with
// ErrUnauthorized. A correct password on an unactivated account fails with
// ErrAccountNotActivated. When the account has two-factor enabled the
// session is still issued, flagged TwoFactorRequired.
func (e *Engine) Login(ctx context.Context, rc *RequestContext, creds Credentials) (*SessionResult, error) {
	u, err := e.checkPassword(ctx, creds)
	if err != nil {
		return nil, e.loginFailed(ctx, methodPassword, "", err)
	}
	return e.startSession(ctx, rc, u, methodPassword, u.TwoFactorEnabled)
}

// LoginWithVerificationCode checks the password and then the current TOTP
// code. A rejected code fails with ErrInvalidVerificationCode.
func (e *Engine) LoginWithVerificationCode(ctx context.Context, rc *RequestContext, creds Credentials, code string) (*SessionResult, error) {
	u, err := e.checkPassword(ctx, creds)
	if err != nil {
		return nil, e.loginFailed(ctx, methodTOTP, "", err)
	}
	if !e.twoFactor.VerifyCode(u, code) {
		return nil, e.loginFailed(ctx, methodTOTP, u.ID, apperr.ErrInvalidVerificationCode)
	}
	return e.startSession(ctx, rc, u, methodTOTP, false)
}

// LoginWithRecoveryCode checks the password and then consumes one recovery
// code. Each code opens at most one session; a used or unknown code fails
// with ErrInvalidRecoveryCode. When the session cannot be opened the code is
// put back, unless two-factor was reset in the meantime.
func (e *Engine) LoginWithRecoveryCode(ctx context.Context, rc *RequestContext, creds Credentials, code string) (*SessionResult, error) {
	u, err := e.checkPassword(ctx, creds)
	if err != nil {
		return nil, e.loginFailed(ctx, methodRecovery, "", err)
	}
	ok, err := e.twoFactor.ConsumeRecoveryCode(ctx, u, code)
	if err != nil {
		return nil, e.fail("login recovery code", err)
	}
	if !ok {
		return nil, e.loginFailed(ctx, methodRecovery, u.ID, apperr.ErrInvalidRecoveryCode)
	}
	res, err := e.startSession(ctx, rc, u, methodRecovery, false)
	if err != nil {
		if rerr := e.twoFactor.RestoreRecoveryCode(ctx, u, code); rerr != nil {
			e.log.Warn("recovery code not restored", append([]zap.Field{logging.UserID(u.ID)}, logging.Err(rerr)...)...)
		}
		return nil, err
	}
	e.emit(ctx, audit.Event{Type: audit.RecoveryCodeUsed, UserID: u.ID, Success: true})
	return res, nil
}

// RefreshTokenFromCookie returns the live refresh record named by the
// refresh cookie on rc. ok is false when the cookie is missing or names no
// record.
func (e *Engine) RefreshTokenFromCookie(ctx context.Context, rc *RequestContext) (*token.SecurityToken, bool, error) {
	value, ok := rc.Cookie(e.cfg.Cookie.Name)
	if !ok || value == "" {
		return nil, false, nil
	}
	tok, err := e.tokens.Find(ctx, value, token.Refresh)
	if errors.Is(err, token.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, e.fail("find refresh token", err)
	}
	return tok, true, nil
}

// Refresh rotates the refresh token named by the cookie on rc. The old
// record is consumed before the new session is issued, so a refresh token
// opens at most one new session. A missing or already rotated token fails
// with ErrInvalidToken; an expired one is removed and fails with
// ErrTokenExpired.
func (e *Engine) Refresh(ctx context.Context, rc *RequestContext) (*SessionResult, error) {
	tok, ok, err := e.RefreshTokenFromCookie(ctx, rc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrInvalidToken
	}

	if err := e.claim(ctx, tok); err != nil {
		return nil, e.fail("refresh", err)
	}

	u, err := e.findUser(ctx, tok.UserID)
	if errors.Is(err, apperr.ErrUserNotFound) {
		return nil, apperr.ErrInvalidToken
	}
	if err != nil {
		return nil, e.fail("refresh", err)
	}
	e.emit(ctx, audit.Event{Type: audit.Refresh, UserID: u.ID, TokenType: string(token.Refresh), Success: true})
	return e.startSession(ctx, rc, u, methodRefresh, false)
}

// Logout revokes the refresh token named by the cookie on rc and expires the
// cookie. It fails with ErrTokenExpired, deleting nothing, unless that token
// exists and belongs to userID.
func (e *Engine) Logout(ctx context.Context, rc *RequestContext, userID string) error {
	tok, ok, err := e.RefreshTokenFromCookie(ctx, rc)
	if err != nil {
		return err
	}
	if !ok || tok.UserID != userID {
		return apperr.ErrTokenExpired
	}

	removed, err := e.tokens.Consume(ctx, tok)
	if err != nil {
		return e.fail("logout", err)
	}
	if !removed {
		return apperr.ErrTokenExpired
	}

	rc.SetCookie(e.cookies.clear())
	e.emit(ctx, audit.Event{Type: audit.Logout, UserID: userID, Success: true})
	return nil
}

// Authenticate validates an access value and returns its user id. It never
// touches storage.
func (e *Engine) Authenticate(_ context.Context, accessValue string) (string, error) {
	userID, err := e.tokens.ParseAccess(accessValue)
	if err != nil {
		return "", e.fail("authenticate", err)
	}
	return userID, nil
}

// checkPassword returns the local account for creds when the password
// matches and the account is activated.
func (e *Engine) checkPassword(ctx context.Context, creds Credentials) (*user.User, error) {
	u, err := e.findUserByEmail(ctx, creds.Email)
	if errors.Is(err, apperr.ErrUserNotFound) {
		return nil, apperr.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if u.PasswordHash == "" || creds.Password == "" {
		return nil, apperr.ErrUnauthorized
	}
	ok, err := e.hasher.Verify(creds.Password, u.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrUnauthorized
	}
	if !u.EmailVerified {
		return nil, apperr.ErrAccountNotActivated
	}
	return u, nil
}

// startSession issues an access value and a persisted refresh token for u
// and sets the refresh cookie.
func (e *Engine) startSession(ctx context.Context, rc *RequestContext, u *user.User, method string, twoFactorRequired bool) (*SessionResult, error) {
	access, expiresAt, err := e.tokens.CreateStatelessValue(u.ID, e.cfg.Tokens.AccessTTL)
	if err != nil {
		return nil, e.loginFailed(ctx, method, u.ID, err)
	}
	refresh, err := e.tokens.CreateToken(ctx, u.ID, e.cfg.Tokens.RefreshTTL, token.Refresh)
	if err != nil {
		return nil, e.loginFailed(ctx, method, u.ID, err)
	}
	rc.SetCookie(e.cookies.refresh(refresh.Value, refresh.ExpiresAt, e.now()))

	e.metrics.Login(method, "success")
	e.emit(ctx, audit.Event{Type: audit.LoginSuccess, UserID: u.ID, Method: method, Success: true})
	e.log.Debug("session opened", logging.UserID(u.ID), logging.Op(method))

	return &SessionResult{
		AccessToken:       access,
		TokenType:         TokenTypeBearer,
		TwoFactorRequired: twoFactorRequired,
		ExpiresAt:         expiresAt,
	}, nil
}

func (e *Engine) loginFailed(ctx context.Context, method, userID string, err error) error {
	out := e.fail("login "+method, err)
	e.metrics.Login(method, "failure")
	e.emit(ctx, audit.Event{
		Type:    audit.LoginFailure,
		UserID:  userID,
		Method:  method,
		Success: false,
		Reason:  apperr.KeyOf(out),
	})
	return out
}
