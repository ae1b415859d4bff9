package postgres

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAccount/user"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

const userColumns = `id, name, email, password_hash, provider, provider_id,
		       email_verified, pending_email, two_factor_secret, two_factor_enabled,
		       role, image_id, created_at, updated_at`

// Directory implements user.Directory.
type Directory struct {
	pool Pool
}

// NewDirectory returns a Directory over pool.
func NewDirectory(pool Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) FindByID(ctx context.Context, id string) (*user.User, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return d.one(row, "find by id", "id", id)
}

// FindByEmail matches case-insensitively.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	if email == "" {
		return nil, user.ErrNotFound
	}
	row := d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return d.one(row, "find by email", "email", email)
}

func (d *Directory) FindByProviderID(ctx context.Context, providerID string) (*user.User, error) {
	if providerID == "" {
		return nil, user.ErrNotFound
	}
	row := d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE provider_id = $1`, providerID)
	return d.one(row, "find by provider id", "provider_id", providerID)
}

func (d *Directory) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email).Scan(&exists)
	if err != nil {
		return false, oops.With("operation", "exists by email").Wrap(err)
	}
	return exists, nil
}

func (d *Directory) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, oops.With("operation", "exists by name").With("name", name).Wrap(err)
	}
	return exists, nil
}

// Save upserts u by id. Unique index violations on name or email map to
// user.ErrDuplicate.
func (d *Directory) Save(ctx context.Context, u *user.User) error {
	err := d.pool.QueryRow(ctx, `
		INSERT INTO users (
			id, name, email, password_hash, provider, provider_id,
			email_verified, pending_email, two_factor_secret, two_factor_enabled,
			role, image_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			provider = EXCLUDED.provider,
			provider_id = EXCLUDED.provider_id,
			email_verified = EXCLUDED.email_verified,
			pending_email = EXCLUDED.pending_email,
			two_factor_secret = EXCLUDED.two_factor_secret,
			two_factor_enabled = EXCLUDED.two_factor_enabled,
			role = EXCLUDED.role,
			image_id = EXCLUDED.image_id,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`,
		u.ID,
		u.Name,
		u.Email,
		u.PasswordHash,
		string(u.Provider),
		nullable(u.ProviderID),
		u.EmailVerified,
		u.PendingEmail,
		u.TwoFactorSecret,
		u.TwoFactorEnabled,
		string(u.Role),
		u.ImageID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return user.ErrDuplicate
	}
	if err != nil {
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "upsert user").
			With("user_id", u.ID).
			Wrap(err)
	}
	return nil
}

// Update locks the row with SELECT ... FOR UPDATE, applies fn and writes the
// result back in the same transaction.
func (d *Directory) Update(ctx context.Context, id string, fn func(*user.User) error) (*user.User, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code("USER_SAVE_FAILED").With("operation", "begin update user").With("user_id", id).Wrap(err)
	}
	rollback := func(err error) (*user.User, error) {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	u, err := d.one(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id), "lock by id", "id", id)
	if err != nil {
		return rollback(err)
	}
	if err := fn(u); err != nil {
		return rollback(err)
	}
	u.ID = id

	err = tx.QueryRow(ctx, `
		UPDATE users SET
			name = $2,
			email = $3,
			password_hash = $4,
			provider = $5,
			provider_id = $6,
			email_verified = $7,
			pending_email = $8,
			two_factor_secret = $9,
			two_factor_enabled = $10,
			role = $11,
			image_id = $12,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`,
		u.ID,
		u.Name,
		u.Email,
		u.PasswordHash,
		string(u.Provider),
		nullable(u.ProviderID),
		u.EmailVerified,
		u.PendingEmail,
		u.TwoFactorSecret,
		u.TwoFactorEnabled,
		string(u.Role),
		u.ImageID,
	).Scan(&u.UpdatedAt)
	if isUniqueViolation(err) {
		return rollback(user.ErrDuplicate)
	}
	if err != nil {
		return rollback(oops.Code("USER_SAVE_FAILED").With("operation", "update user").With("user_id", id).Wrap(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code("USER_SAVE_FAILED").With("operation", "commit update user").With("user_id", id).Wrap(err)
	}
	return u, nil
}

func (d *Directory) Delete(ctx context.Context, id string) error {
	if _, err := d.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return oops.With("operation", "delete user").With("user_id", id).Wrap(err)
	}
	return nil
}

func (d *Directory) one(row pgx.Row, op, key, val string) (*user.User, error) {
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", op).With(key, val).Wrap(err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*user.User, error) {
	var (
		u          user.User
		provider   string
		providerID *string
		role       string
	)
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&provider,
		&providerID,
		&u.EmailVerified,
		&u.PendingEmail,
		&u.TwoFactorSecret,
		&u.TwoFactorEnabled,
		&role,
		&u.ImageID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Provider = user.AuthProvider(provider)
	u.ProviderID = deref(providerID)
	u.Role = user.Role(role)
	return &u, nil
}
