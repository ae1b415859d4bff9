package goAccount

import (
	"context"

	"github.com/MrEthical07/goAccount/apperr"
	"github.com/MrEthical07/goAccount/identity"
	"github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/user"
)

// FederatedLogin resolves or creates the account for an identity asserted by
// provider and opens a session for it like a local login would.
//
// An email already registered with a different provider fails with a
// provider conflict error naming that provider; the existing account is not
// touched.
func (e *Engine) FederatedLogin(ctx context.Context, rc *RequestContext, provider user.AuthProvider, claims identity.Claims) (*SessionResult, error) {
	if !provider.IsFederated() {
		return nil, apperr.ErrUnauthorized
	}

	u, err := e.linker.ResolveOrCreate(ctx, provider, claims)
	if err != nil {
		if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindProviderConflict {
			e.emit(ctx, audit.Event{
				Type:     audit.FederatedConflict,
				Method:   provider.String(),
				Success:  false,
				Reason:   ae.Key,
				Metadata: map[string]string{"existing_provider": ae.ExistingProvider},
			})
		}
		return nil, e.loginFailed(ctx, methodFederated, "", err)
	}

	e.emit(ctx, audit.Event{Type: audit.FederatedLinked, UserID: u.ID, Method: provider.String(), Success: true})
	return e.startSession(ctx, rc, u, methodFederated, u.TwoFactorEnabled)
}
