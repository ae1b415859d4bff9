// Package user defines the account record, its provider and role tags, and the
// directory contract the authentication core persists users through.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Directory lookups when no record matches.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned by Directory.Save when another record holds the name or email.
	ErrDuplicate = errors.New("user name or email already taken")
)

// AuthProvider tags the identity source that owns an account.
type AuthProvider string

const (
	ProviderLocal    AuthProvider = "local"
	ProviderGoogle   AuthProvider = "google"
	ProviderGitHub   AuthProvider = "github"
	ProviderFacebook AuthProvider = "facebook"
)

var knownProviders = []AuthProvider{ProviderLocal, ProviderGoogle, ProviderGitHub, ProviderFacebook}

// ParseAuthProvider maps a provider tag onto the closed enumeration.
func ParseAuthProvider(tag string) (AuthProvider, error) {
	normalized := AuthProvider(strings.ToLower(strings.TrimSpace(tag)))
	for _, p := range knownProviders {
		if p == normalized {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown auth provider %q", tag)
}

// IsFederated reports whether authentication is delegated to an external provider.
func (p AuthProvider) IsFederated() bool {
	return p != ProviderLocal
}

func (p AuthProvider) String() string {
	return string(p)
}

// Role is the single authorization attribute carried by an account.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is the persisted account record.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string

	Provider   AuthProvider
	ProviderID string

	EmailVerified bool
	PendingEmail  string

	TwoFactorSecret  string
	TwoFactorEnabled bool

	Role    Role
	ImageID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy safe to mutate independently of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

// Directory is the persistence contract for user records.
//
// Save inserts or updates by ID and must reject, with ErrDuplicate, a record
// whose name or email is held by a different ID. Delete is idempotent.
//
// Update loads the record for id, passes it to fn and stores the result as
// one atomic step: no other Save, Update or Delete of id can land between
// the read and the write. An error from fn aborts the update and is
// returned unchanged. Update returns ErrNotFound for an absent id and
// ErrDuplicate under the same rule as Save.
type Directory interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByProviderID(ctx context.Context, providerID string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	Save(ctx context.Context, u *User) error
	Update(ctx context.Context, id string, fn func(*User) error) (*User, error)
	Delete(ctx context.Context, id string) error
}
