package postgres

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAccount/token"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
)

const tokenColumns = `id, value, type, user_id, created_at, expires_at`

// Tokens implements token.Repository.
type Tokens struct {
	pool Pool
}

// NewTokens returns a Tokens repository over pool.
func NewTokens(pool Pool) *Tokens {
	return &Tokens{pool: pool}
}

func (r *Tokens) Save(ctx context.Context, tok *token.SecurityToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_tokens (id, value, type, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (value) DO UPDATE SET
			id = EXCLUDED.id,
			type = EXCLUDED.type,
			user_id = EXCLUDED.user_id,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, tok.ID, tok.Value, string(tok.Type), tok.UserID, tok.CreatedAt, tok.ExpiresAt)
	if err != nil {
		return oops.With("operation", "save token").With("token_type", string(tok.Type)).Wrap(err)
	}
	return nil
}

func (r *Tokens) FindByValueAndType(ctx context.Context, value string, typ token.Type) (*token.SecurityToken, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM security_tokens WHERE value = $1 AND type = $2`,
		value, string(typ))
	tok, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, oops.With("operation", "find token").With("token_type", string(typ)).Wrap(err)
	}
	return tok, nil
}

func (r *Tokens) FindByUserAndType(ctx context.Context, userID string, typ token.Type) ([]*token.SecurityToken, error) {
	return r.list(ctx, "find tokens by user",
		`SELECT `+tokenColumns+` FROM security_tokens WHERE user_id = $1 AND type = $2 ORDER BY created_at DESC`,
		userID, string(typ))
}

// Delete relies on the single-row DELETE being atomic: of several concurrent
// callers only one sees a row affected.
func (r *Tokens) Delete(ctx context.Context, value string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_tokens WHERE value = $1`, value)
	if err != nil {
		return false, oops.With("operation", "delete token").Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Tokens) DeleteByUserAndType(ctx context.Context, userID string, typ token.Type) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_tokens WHERE user_id = $1 AND type = $2`, userID, string(typ))
	if err != nil {
		return 0, oops.With("operation", "delete tokens by user and type").With("user_id", userID).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Tokens) DeleteByUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM security_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, oops.With("operation", "delete tokens by user").With("user_id", userID).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Tokens) All(ctx context.Context) ([]*token.SecurityToken, error) {
	return r.list(ctx, "list tokens", `SELECT `+tokenColumns+` FROM security_tokens ORDER BY created_at DESC`)
}

func (r *Tokens) list(ctx context.Context, op, sql string, args ...any) ([]*token.SecurityToken, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, oops.With("operation", op).Wrap(err)
	}
	defer rows.Close()

	var out []*token.SecurityToken
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, oops.With("operation", "scan token row").Wrap(err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", op).Wrap(err)
	}
	return out, nil
}

func scanToken(row pgx.Row) (*token.SecurityToken, error) {
	var (
		tok token.SecurityToken
		typ string
	)
	if err := row.Scan(&tok.ID, &tok.Value, &typ, &tok.UserID, &tok.CreatedAt, &tok.ExpiresAt); err != nil {
		return nil, err
	}
	parsed, err := token.ParseType(typ)
	if err != nil {
		return nil, err
	}
	tok.Type = parsed
	return &tok, nil
}
