package postgres

import (
	"context"

	"github.com/samber/oops"
)

// RecoveryCodes implements twofactor.Repository over recovery_codes.
type RecoveryCodes struct {
	pool Pool
}

// NewRecoveryCodes returns a RecoveryCodes repository over pool.
func NewRecoveryCodes(pool Pool) *RecoveryCodes {
	return &RecoveryCodes{pool: pool}
}

// Replace swaps the user's set inside one transaction.
func (r *RecoveryCodes) Replace(ctx context.Context, userID string, digests []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.With("operation", "begin replace recovery codes").With("user_id", userID).Wrap(err)
	}
	fail := func(op string, err error) error {
		_ = tx.Rollback(ctx)
		return oops.With("operation", op).With("user_id", userID).Wrap(err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fail("clear recovery codes", err)
	}
	if len(digests) > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO recovery_codes (user_id, digest) SELECT $1, unnest($2::text[])`,
			userID, digests); err != nil {
			return fail("insert recovery codes", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.With("operation", "commit recovery codes").With("user_id", userID).Wrap(err)
	}
	return nil
}

func (r *RecoveryCodes) Contains(ctx context.Context, userID, digest string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM recovery_codes WHERE user_id = $1 AND digest = $2)`,
		userID, digest).Scan(&exists)
	if err != nil {
		return false, oops.With("operation", "check recovery code").With("user_id", userID).Wrap(err)
	}
	return exists, nil
}

func (r *RecoveryCodes) Consume(ctx context.Context, userID, digest string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1 AND digest = $2`, userID, digest)
	if err != nil {
		return false, oops.With("operation", "consume recovery code").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RecoveryCodes) Restore(ctx context.Context, userID, digest string) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO recovery_codes (user_id, digest) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, digest); err != nil {
		return oops.With("operation", "restore recovery code").With("user_id", userID).Wrap(err)
	}
	return nil
}

func (r *RecoveryCodes) DeleteAll(ctx context.Context, userID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID)
	if err != nil {
		return 0, oops.With("operation", "delete recovery codes").With("user_id", userID).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *RecoveryCodes) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recovery_codes WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, oops.With("operation", "count recovery codes").With("user_id", userID).Wrap(err)
	}
	return n, nil
}
