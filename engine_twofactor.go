package goAccount

import (
	"context"

	"github.com/MrEthical07/goAccount/apperr"
	"github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/twofactor"
)

// BeginTwoFactorSetup rotates the TOTP secret of userID and returns the
// provisioning payload to show once.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (*twofactor.Provisioning, error) {
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return nil, e.fail("begin two-factor setup", err)
	}
	p, err := e.twoFactor.BeginSetup(ctx, u)
	if err != nil {
		return nil, e.fail("begin two-factor setup", err)
	}
	return p, nil
}

// EnableTwoFactor confirms setup with a current code and returns a fresh
// batch of recovery codes. Codes from any earlier batch stop working.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID, code string) ([]string, error) {
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return nil, e.fail("enable two-factor", err)
	}
	codes, err := e.twoFactor.VerifyAndEnable(ctx, u, code)
	if err != nil {
		out := e.fail("enable two-factor", err)
		e.emit(ctx, audit.Event{Type: audit.TwoFactorEnabled, UserID: userID, Success: false, Reason: apperr.KeyOf(out)})
		return nil, out
	}
	e.emit(ctx, audit.Event{Type: audit.TwoFactorEnabled, UserID: userID, Success: true})
	return codes, nil
}

// DisableTwoFactor clears the secret and every recovery code of userID.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID string) error {
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return e.fail("disable two-factor", err)
	}
	if err := e.twoFactor.Disable(ctx, u); err != nil {
		return e.fail("disable two-factor", err)
	}
	e.emit(ctx, audit.Event{Type: audit.TwoFactorDisabled, UserID: userID, Success: true})
	return nil
}

// RemainingRecoveryCodes reports how many unused recovery codes userID has.
func (e *Engine) RemainingRecoveryCodes(ctx context.Context, userID string) (int, error) {
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return 0, e.fail("remaining recovery codes", err)
	}
	n, err := e.twoFactor.RemainingRecoveryCodes(ctx, u)
	if err != nil {
		return 0, e.fail("remaining recovery codes", err)
	}
	return n, nil
}
