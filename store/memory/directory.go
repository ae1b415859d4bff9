// Package memory provides in-process implementations of the goAccount
// collaborator contracts. They are safe for concurrent use and intended for
// tests, examples and single-node deployments.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goAccount/internal/keylock"
	"github.com/MrEthical07/goAccount/user"
)

// Directory is an in-memory user.Directory. Email uniqueness is
// case-insensitive; name uniqueness is exact.
type Directory struct {
	mu    sync.RWMutex
	rows  keylock.Map
	users map[string]*user.User
	now   func() time.Time
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{users: make(map[string]*user.User), now: time.Now}
}

func (d *Directory) FindByID(_ context.Context, id string) (*user.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, user.ErrNotFound
}

func (d *Directory) FindByEmail(_ context.Context, email string) (*user.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u := d.byEmailLocked(email); u != nil {
		return u.Clone(), nil
	}
	return nil, user.ErrNotFound
}

func (d *Directory) FindByProviderID(_ context.Context, providerID string) (*user.User, error) {
	if providerID == "" {
		return nil, user.ErrNotFound
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.ProviderID == providerID {
			return u.Clone(), nil
		}
	}
	return nil, user.ErrNotFound
}

func (d *Directory) ExistsByEmail(_ context.Context, email string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byEmailLocked(email) != nil, nil
}

func (d *Directory) ExistsByName(_ context.Context, name string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byNameLocked(name) != nil, nil
}

// Save inserts or replaces u, rejecting a name or email held by another id.
func (d *Directory) Save(_ context.Context, u *user.User) error {
	unlock := d.rows.Lock(u.ID)
	defer unlock()
	return d.store(u)
}

// Update runs fn on a copy of id and stores it while holding id's row lock.
func (d *Directory) Update(ctx context.Context, id string, fn func(*user.User) error) (*user.User, error) {
	unlock := d.rows.Lock(id)
	defer unlock()

	u, err := d.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	u.ID = id
	if err := d.store(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (d *Directory) store(u *user.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if other := d.byNameLocked(u.Name); other != nil && other.ID != u.ID {
		return user.ErrDuplicate
	}
	if u.Email != "" {
		if other := d.byEmailLocked(u.Email); other != nil && other.ID != u.ID {
			return user.ErrDuplicate
		}
	}

	now := d.now()
	stored := u.Clone()
	if existing, ok := d.users[u.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	d.users[u.ID] = stored

	u.CreatedAt = stored.CreatedAt
	u.UpdatedAt = stored.UpdatedAt
	return nil
}

// Delete removes id. Deleting an absent id is not an error.
func (d *Directory) Delete(_ context.Context, id string) error {
	unlock := d.rows.Lock(id)
	defer unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, id)
	return nil
}

// Len reports the number of stored users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

func (d *Directory) byEmailLocked(email string) *user.User {
	if email == "" {
		return nil
	}
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func (d *Directory) byNameLocked(name string) *user.User {
	for _, u := range d.users {
		if u.Name == name {
			return u
		}
	}
	return nil
}
