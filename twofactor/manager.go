// Package twofactor manages TOTP secrets, provisioning payloads and one-time
// recovery codes.
//
// Codes use HMAC-SHA512, six digits and a thirty second step. Per user the
// lifecycle is Disabled, then PendingConfirmation after BeginSetup, then
// Enabled after a successful VerifyAndEnable, and back to Disabled.
package twofactor

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/goAccount/apperr"
	"github.com/MrEthical07/goAccount/user"
	"github.com/samber/oops"
	qrcode "github.com/skip2/go-qrcode"
)

// ProvisioningMimeType is the mime type of Provisioning.Image.
const ProvisioningMimeType = "image/png"

const defaultQRSize = 256

// Repository stores recovery code digests per user. Consume must be atomic:
// a digest is reported present to at most one caller.
type Repository interface {
	Replace(ctx context.Context, userID string, digests []string) error
	Contains(ctx context.Context, userID, digest string) (bool, error)
	Consume(ctx context.Context, userID, digest string) (bool, error)
	// Restore puts back a digest taken by Consume. Restoring a digest that
	// is already present is not an error.
	Restore(ctx context.Context, userID, digest string) error
	DeleteAll(ctx context.Context, userID string) (int, error)
	Count(ctx context.Context, userID string) (int, error)
}

// Config holds provisioning settings.
type Config struct {
	// Issuer labels the account in authenticator apps.
	Issuer string
	// QRSize is the PNG edge length in pixels.
	QRSize int
}

// Provisioning is handed to the user once per setup.
type Provisioning struct {
	URI      string
	Secret   string
	Image    []byte
	MimeType string
}

// Manager runs the two-factor lifecycle. It is safe for concurrent use.
type Manager struct {
	cfg   Config
	users user.Directory
	codes Repository
	now   func() time.Time
	rand  io.Reader
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for code verification.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRandom overrides the entropy source for secrets and recovery codes.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		if r != nil {
			m.rand = r
		}
	}
}

// NewManager returns a Manager persisting users and recovery codes.
func NewManager(cfg Config, users user.Directory, codes Repository, opts ...Option) (*Manager, error) {
	if users == nil || codes == nil {
		return nil, errors.New("two-factor manager requires a user directory and a recovery code repository")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("two-factor issuer is required")
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = defaultQRSize
	}
	m := &Manager{cfg: cfg, users: users, codes: codes, now: time.Now, rand: rand.Reader}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GenerateSecret returns a fresh base32 secret.
func (m *Manager) GenerateSecret() (string, error) {
	return generateSecret(m.rand)
}

// BeginSetup rotates u's secret, overwriting any unconfirmed one, persists it
// and returns the provisioning payload. The enabled flag is left untouched.
func (m *Manager) BeginSetup(ctx context.Context, u *user.User) (*Provisioning, error) {
	secret, err := m.GenerateSecret()
	if err != nil {
		return nil, oops.Code("TWO_FACTOR_SECRET_FAILED").Wrap(err)
	}

	uri := provisionURI(m.cfg.Issuer, u.Email, secret)
	png, err := qrcode.Encode(uri, qrcode.Medium, m.cfg.QRSize)
	if err != nil {
		return nil, oops.Code("TWO_FACTOR_QR_FAILED").With("user_id", u.ID).Wrap(err)
	}

	next, err := m.update(ctx, u.ID, "begin setup", func(next *user.User) error {
		next.TwoFactorSecret = secret
		return nil
	})
	if err != nil {
		return nil, err
	}
	*u = *next

	return &Provisioning{URI: uri, Secret: secret, Image: png, MimeType: ProvisioningMimeType}, nil
}

// VerifyAndEnable checks code against u's current secret. On success it
// enables two-factor, replaces the recovery codes with a fresh batch and
// returns their plaintext once. On failure nothing changes and
// apperr.ErrInvalidVerificationCode is returned.
func (m *Manager) VerifyAndEnable(ctx context.Context, u *user.User, code string) ([]string, error) {
	if !m.VerifyCode(u, code) {
		return nil, apperr.ErrInvalidVerificationCode
	}

	plain := make([]string, 0, RecoveryCodeCount)
	digests := make([]string, 0, RecoveryCodeCount)
	seen := make(map[string]struct{}, RecoveryCodeCount)
	for len(plain) < RecoveryCodeCount {
		c, err := newRecoveryCode(m.rand)
		if err != nil {
			return nil, oops.Code("RECOVERY_CODE_GENERATION_FAILED").Wrap(err)
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		plain = append(plain, c)
		digests = append(digests, recoveryDigest(u.ID, c))
	}

	if err := m.codes.Replace(ctx, u.ID, digests); err != nil {
		return nil, oops.Code("RECOVERY_CODE_REPOSITORY_UNAVAILABLE").
			With("operation", "replace").
			With("user_id", u.ID).
			Wrap(err)
	}

	// A setup restarted since u was read rotated the secret the code matched.
	next, err := m.update(ctx, u.ID, "enable", func(next *user.User) error {
		if next.TwoFactorSecret != u.TwoFactorSecret {
			return apperr.ErrInvalidVerificationCode
		}
		next.TwoFactorEnabled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	*u = *next
	return plain, nil
}

// Disable clears the secret and enabled flag and deletes every recovery code.
// Disabling an already disabled user succeeds.
func (m *Manager) Disable(ctx context.Context, u *user.User) error {
	if u.TwoFactorEnabled || u.TwoFactorSecret != "" {
		next, err := m.update(ctx, u.ID, "disable", func(next *user.User) error {
			next.TwoFactorEnabled = false
			next.TwoFactorSecret = ""
			return nil
		})
		if err != nil {
			return err
		}
		*u = *next
	}
	return m.DeleteRecoveryCodes(ctx, u.ID)
}

// DeleteRecoveryCodes removes every recovery code owned by userID.
func (m *Manager) DeleteRecoveryCodes(ctx context.Context, userID string) error {
	if _, err := m.codes.DeleteAll(ctx, userID); err != nil {
		return oops.Code("RECOVERY_CODE_REPOSITORY_UNAVAILABLE").
			With("operation", "delete all").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// VerifyCode reports whether code is valid for u's current secret. It does
// not mutate state.
func (m *Manager) VerifyCode(u *user.User, code string) bool {
	if u == nil || u.TwoFactorSecret == "" {
		return false
	}
	ok, err := verifyTOTP(u.TwoFactorSecret, code, m.now())
	return err == nil && ok
}

// VerifyRecoveryCode reports whether code is in u's live set.
func (m *Manager) VerifyRecoveryCode(ctx context.Context, u *user.User, code string) (bool, error) {
	ok, err := m.codes.Contains(ctx, u.ID, recoveryDigest(u.ID, code))
	if err != nil {
		return false, oops.Code("RECOVERY_CODE_REPOSITORY_UNAVAILABLE").With("operation", "contains").With("user_id", u.ID).Wrap(err)
	}
	return ok, nil
}

// ConsumeRecoveryCode deletes exactly code from u's live set and reports
// whether it was present. A code is consumed at most once.
func (m *Manager) ConsumeRecoveryCode(ctx context.Context, u *user.User, code string) (bool, error) {
	if canonicalRecoveryCode(code) == "" {
		return false, nil
	}
	ok, err := m.codes.Consume(ctx, u.ID, recoveryDigest(u.ID, code))
	if err != nil {
		return false, oops.Code("RECOVERY_CODE_REPOSITORY_UNAVAILABLE").With("operation", "consume").With("user_id", u.ID).Wrap(err)
	}
	return ok, nil
}

// RestoreRecoveryCode returns a code taken by ConsumeRecoveryCode to u's
// live set. It does nothing when two-factor was disabled or its secret
// rotated since u was read.
func (m *Manager) RestoreRecoveryCode(ctx context.Context, u *user.User, code string) error {
	cur, err := m.users.FindByID(ctx, u.ID)
	if errors.Is(err, user.ErrNotFound) {
		return nil
	}
	if err != nil {
		return oops.Code("USER_DIRECTORY_UNAVAILABLE").With("operation", "two-factor restore recovery code").With("user_id", u.ID).Wrap(err)
	}
	if !cur.TwoFactorEnabled || cur.TwoFactorSecret != u.TwoFactorSecret {
		return nil
	}
	if err := m.codes.Restore(ctx, u.ID, recoveryDigest(u.ID, code)); err != nil {
		return oops.Code("RECOVERY_CODE_REPOSITORY_UNAVAILABLE").With("operation", "restore").With("user_id", u.ID).Wrap(err)
	}
	return nil
}

// RemainingRecoveryCodes reports how many codes u can still use.
func (m *Manager) RemainingRecoveryCodes(ctx context.Context, u *user.User) (int, error) {
	n, err := m.codes.Count(ctx, u.ID)
	if err != nil {
		return 0, oops.Code("RECOVERY_CODE_REPOSITORY_UNAVAILABLE").With("operation", "count").With("user_id", u.ID).Wrap(err)
	}
	return n, nil
}

func (m *Manager) update(ctx context.Context, userID, op string, fn func(*user.User) error) (*user.User, error) {
	u, err := m.users.Update(ctx, userID, fn)
	if err == nil {
		return u, nil
	}
	if errors.Is(err, user.ErrNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	if _, ok := apperr.As(err); ok {
		return nil, err
	}
	return nil, oops.Code("USER_DIRECTORY_UNAVAILABLE").
		With("operation", "two-factor "+op).
		With("user_id", userID).
		Wrap(err)
}
