package middleware

import (
	"context"
	"errors"
	"net/http"

	goAccount "github.com/MrEthical07/goAccount"
)

// RequireAccount is RequireAccess plus a directory lookup of the user. An
// access value whose account was cancelled is rejected with 401.
func RequireAccount(engine *goAccount.Engine) func(http.Handler) http.Handler {
	return guard(engine, func(ctx context.Context, userID string) error {
		_, err := engine.User(ctx, userID)
		if errors.Is(err, goAccount.ErrUserNotFound) {
			return goAccount.ErrUnauthorized
		}
		return err
	})
}
