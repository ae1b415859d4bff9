// Package token issues, persists, validates and revokes the security tokens
// used by goAccount sessions and single-use account flows.
//
// Access values are stateless: validity is proven by signature and embedded
// expiry only. Refresh and single-use tokens are persisted through a
// Repository so they can be revoked before they expire.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Repository lookups when no record matches.
var ErrNotFound = errors.New("token not found")

// Type tags the purpose of a token.
type Type string

const (
	Access            Type = "ACCESS"
	Refresh           Type = "REFRESH"
	AccountActivation Type = "ACCOUNT_ACTIVATION"
	EmailUpdate       Type = "EMAIL_UPDATE"
	ForgottenPassword Type = "FORGOTTEN_PASSWORD"
)

// SingleUse reports whether at most one live token per (user, type) may exist.
func (t Type) SingleUse() bool {
	switch t {
	case AccountActivation, EmailUpdate, ForgottenPassword:
		return true
	default:
		return false
	}
}

// Persisted reports whether tokens of this type are stored in a Repository.
func (t Type) Persisted() bool {
	return t == Refresh || t.SingleUse()
}

// ParseType maps a stored tag back onto Type.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Access, Refresh, AccountActivation, EmailUpdate, ForgottenPassword:
		return t, nil
	default:
		return "", fmt.Errorf("unknown token type %q", s)
	}
}

// SecurityToken is a persisted token record. Value is the signed bearer
// string; the remaining fields mirror its claims for indexing.
type SecurityToken struct {
	ID        string
	Value     string
	Type      Type
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Repository persists SecurityToken records.
//
// Delete must be atomic per value: when several callers delete the same value
// concurrently exactly one observes deleted == true. FindByUserAndType returns
// records newest first.
type Repository interface {
	Save(ctx context.Context, tok *SecurityToken) error
	FindByValueAndType(ctx context.Context, value string, typ Type) (*SecurityToken, error)
	FindByUserAndType(ctx context.Context, userID string, typ Type) ([]*SecurityToken, error)
	Delete(ctx context.Context, value string) (deleted bool, err error)
	DeleteByUserAndType(ctx context.Context, userID string, typ Type) (int, error)
	DeleteByUser(ctx context.Context, userID string) (int, error)
	All(ctx context.Context) ([]*SecurityToken, error)
}
