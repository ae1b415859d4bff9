package token

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goAccount/apperr"
	"github.com/MrEthical07/goAccount/internal/keylock"
	"github.com/MrEthical07/goAccount/internal/logging"
	"github.com/MrEthical07/goAccount/jwt"
	"github.com/MrEthical07/goAccount/metrics"
	"github.com/samber/oops"
	"go.uber.org/zap"
)

// Store issues and validates token values and keeps the persisted records in
// a Repository. It is safe for concurrent use.
type Store struct {
	signer  *jwt.Manager
	repo    Repository
	locks   keylock.Map
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger used for sweep reporting.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

// WithMetrics records issued, consumed and swept counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore returns a Store signing with signer and persisting into repo.
func NewStore(signer *jwt.Manager, repo Repository, opts ...Option) (*Store, error) {
	if signer == nil {
		return nil, errors.New("token store requires a signer")
	}
	if repo == nil {
		return nil, errors.New("token store requires a repository")
	}
	s := &Store{signer: signer, repo: repo, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateToken signs and persists a token of typ for userID.
//
// For single-use types every existing record of the same (user, type) is
// deleted before the new one is saved, under a per-(user, type) lock, so only
// the newest token is ever accepted.
func (s *Store) CreateToken(ctx context.Context, userID string, ttl time.Duration, typ Type) (*SecurityToken, error) {
	if !typ.Persisted() {
		return nil, oops.Code("TOKEN_TYPE_NOT_PERSISTED").With("type", typ).Errorf("token type %s is not persisted", typ)
	}

	if typ.SingleUse() {
		unlock := s.locks.Lock(userID + "\x00" + string(typ))
		defer unlock()

		if _, err := s.repo.DeleteByUserAndType(ctx, userID, typ); err != nil {
			return nil, oops.Code("TOKEN_REPOSITORY_UNAVAILABLE").
				With("operation", "supersede").
				With("user_id", userID).
				With("type", typ).
				Wrap(err)
		}
	}

	value, claims, err := s.signer.Issue(userID, string(typ), ttl)
	if err != nil {
		return nil, oops.Code("TOKEN_SIGN_FAILED").With("type", typ).Wrap(err)
	}

	tok := &SecurityToken{
		ID:        claims.ID,
		Value:     value,
		Type:      typ,
		UserID:    userID,
		CreatedAt: claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if err := s.repo.Save(ctx, tok); err != nil {
		return nil, oops.Code("TOKEN_REPOSITORY_UNAVAILABLE").
			With("operation", "save").
			With("user_id", userID).
			With("type", typ).
			Wrap(err)
	}

	s.metrics.TokenIssued(string(typ))
	return tok, nil
}

// CreateStatelessValue signs an access value for userID. It is never
// persisted and cannot be revoked before it expires.
func (s *Store) CreateStatelessValue(userID string, ttl time.Duration) (string, time.Time, error) {
	value, claims, err := s.signer.Issue(userID, string(Access), ttl)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").With("type", Access).Wrap(err)
	}
	s.metrics.TokenIssued(string(Access))
	return value, claims.ExpiresAt.Time, nil
}

// Validate reports whether value carries a valid signature and has not expired.
func (s *Store) Validate(value string) bool {
	_, err := s.signer.Parse(value)
	return err == nil
}

// Parse verifies value and returns its claims. Expired values fail with
// apperr.ErrTokenExpired and any other defect with apperr.ErrInvalidToken.
func (s *Store) Parse(value string) (*jwt.Claims, error) {
	claims, err := s.signer.Parse(value)
	if err != nil {
		if jwt.IsExpired(err) {
			return nil, apperr.ErrTokenExpired.Wrap(err)
		}
		return nil, apperr.ErrInvalidToken.Wrap(err)
	}
	return claims, nil
}

// ParseAccess verifies an access value and returns the subject user id.
func (s *Store) ParseAccess(value string) (string, error) {
	claims, err := s.Parse(value)
	if err != nil {
		return "", err
	}
	if claims.Type != string(Access) {
		return "", apperr.ErrInvalidToken
	}
	return claims.Subject, nil
}

// Find returns the persisted record for value, or ErrNotFound.
func (s *Store) Find(ctx context.Context, value string, typ Type) (*SecurityToken, error) {
	tok, err := s.repo.FindByValueAndType(ctx, value, typ)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, oops.Code("TOKEN_REPOSITORY_UNAVAILABLE").With("operation", "find").With("type", typ).Wrap(err)
	}
	return tok, nil
}

// FindLatest returns the newest persisted record of typ for userID, or ErrNotFound.
func (s *Store) FindLatest(ctx context.Context, userID string, typ Type) (*SecurityToken, error) {
	toks, err := s.repo.FindByUserAndType(ctx, userID, typ)
	if err != nil {
		return nil, oops.Code("TOKEN_REPOSITORY_UNAVAILABLE").
			With("operation", "find latest").
			With("user_id", userID).
			With("type", typ).
			Wrap(err)
	}
	if len(toks) == 0 {
		return nil, ErrNotFound
	}
	return toks[0], nil
}

// Delete removes tok. Deleting an absent token is not an error.
func (s *Store) Delete(ctx context.Context, tok *SecurityToken) error {
	if tok == nil {
		return nil
	}
	_, err := s.Consume(ctx, tok)
	return err
}

// Consume atomically deletes tok and reports whether this call removed it.
// Of several concurrent consumers of the same value exactly one gets true.
func (s *Store) Consume(ctx context.Context, tok *SecurityToken) (bool, error) {
	deleted, err := s.repo.Delete(ctx, tok.Value)
	if err != nil {
		return false, oops.Code("TOKEN_REPOSITORY_UNAVAILABLE").
			With("operation", "delete").
			With("type", tok.Type).
			Wrap(err)
	}
	if deleted {
		s.metrics.TokenConsumed(string(tok.Type))
	}
	return deleted, nil
}

// Restore re-saves a consumed record. Used to undo a claim when the state
// change it guarded could not be persisted.
func (s *Store) Restore(ctx context.Context, tok *SecurityToken) error {
	if err := s.repo.Save(ctx, tok); err != nil {
		return oops.Code("TOKEN_REPOSITORY_UNAVAILABLE").With("operation", "restore").With("type", tok.Type).Wrap(err)
	}
	return nil
}

// DeleteAllForUser removes every persisted token owned by userID.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	if _, err := s.repo.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("TOKEN_REPOSITORY_UNAVAILABLE").With("operation", "delete by user").With("user_id", userID).Wrap(err)
	}
	return nil
}

// DeleteForUser removes the persisted tokens of typ owned by userID.
func (s *Store) DeleteForUser(ctx context.Context, userID string, typ Type) (int, error) {
	n, err := s.repo.DeleteByUserAndType(ctx, userID, typ)
	if err != nil {
		return 0, oops.Code("TOKEN_REPOSITORY_UNAVAILABLE").
			With("operation", "delete by user and type").
			With("user_id", userID).
			With("type", typ).
			Wrap(err)
	}
	return n, nil
}

// Sweep deletes every persisted token whose value no longer validates and
// returns how many records it removed.
//
// Invalidity only depends on the value and the clock and never reverts, and
// each delete is atomic per value, so a sweep cannot remove a token that a
// concurrent request is validly consuming.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	toks, err := s.repo.All(ctx)
	if err != nil {
		return 0, oops.Code("TOKEN_REPOSITORY_UNAVAILABLE").With("operation", "sweep list").Wrap(err)
	}

	removed := 0
	for _, tok := range toks {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if s.Validate(tok.Value) {
			continue
		}
		deleted, err := s.repo.Delete(ctx, tok.Value)
		if err != nil {
			return removed, oops.Code("TOKEN_REPOSITORY_UNAVAILABLE").With("operation", "sweep delete").Wrap(err)
		}
		if deleted {
			removed++
		}
	}

	s.metrics.TokensSwept(removed)
	if removed > 0 {
		s.logger.Info("swept invalid tokens", zap.Int("removed", removed), zap.Int("scanned", len(toks)))
	}
	return removed, nil
}
