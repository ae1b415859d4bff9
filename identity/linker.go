// Package identity resolves federated provider claims onto local accounts,
// creating the account on first sign-in.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/apperr"
	"github.com/MrEthical07/goAccount/internal/logging"
	"github.com/MrEthical07/goAccount/twofactor"
	"github.com/MrEthical07/goAccount/user"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"go.uber.org/zap"
)

const (
	DefaultAvatarTimeout    = 5 * time.Second
	DefaultAvatarMaxBytes   = 5 << 20
	DefaultProfileImageName = "profile_image.png"
	DefaultImage            = "blank-profile-picture.png"

	defaultAvatarMimeType = "image/png"
	maxNameAttempts       = 8
)

var errAvatarTooLarge = errors.New("avatar exceeds size limit")

// Claims is the identity asserted by a federated provider.
type Claims struct {
	ID       string
	Name     string
	Email    string
	ImageURL string
}

// FileStore persists uploaded blobs and returns the id they are reachable by.
type FileStore interface {
	Save(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// Config tunes avatar handling for newly created accounts.
type Config struct {
	AvatarTimeout    time.Duration
	AvatarMaxBytes   int64
	ProfileImageName string
	// DefaultImage is the image id stored when no avatar could be saved.
	DefaultImage string
}

func (c Config) withDefaults() Config {
	if c.AvatarTimeout <= 0 {
		c.AvatarTimeout = DefaultAvatarTimeout
	}
	if c.AvatarMaxBytes <= 0 {
		c.AvatarMaxBytes = DefaultAvatarMaxBytes
	}
	if c.ProfileImageName == "" {
		c.ProfileImageName = DefaultProfileImageName
	}
	if c.DefaultImage == "" {
		c.DefaultImage = DefaultImage
	}
	return c
}

// Linker maps provider claims onto user records.
type Linker struct {
	cfg       Config
	users     user.Directory
	files     FileStore
	client    *http.Client
	newSecret func() (string, error)
	newID     func() string
	log       *zap.Logger
}

// Option customizes a Linker.
type Option func(*Linker)

// WithHTTPClient replaces the client used for avatar downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Linker) {
		if c != nil {
			l.client = c
		}
	}
}

// WithLogger sets the logger used for skipped avatars.
func WithLogger(log *zap.Logger) Option {
	return func(l *Linker) { l.log = logging.OrNop(log) }
}

// WithSecretGenerator overrides how the pre-generated two-factor secret is made.
func WithSecretGenerator(fn func() (string, error)) Option {
	return func(l *Linker) {
		if fn != nil {
			l.newSecret = fn
		}
	}
}

// NewLinker returns a Linker. files may be nil, in which case every new
// account gets the default image.
func NewLinker(cfg Config, users user.Directory, files FileStore, opts ...Option) (*Linker, error) {
	if users == nil {
		return nil, errors.New("identity linker requires a user directory")
	}
	cfg = cfg.withDefaults()
	l := &Linker{
		cfg:       cfg,
		users:     users,
		files:     files,
		client:    &http.Client{Timeout: cfg.AvatarTimeout},
		newSecret: twofactor.GenerateSecret,
		newID:     uuid.NewString,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// ResolveOrCreate returns the account bound to claims, creating it when no
// account holds the provider id or email. An account owned by another provider
// is never modified; it yields an apperr.KindProviderConflict error instead.
func (l *Linker) ResolveOrCreate(ctx context.Context, provider user.AuthProvider, claims Claims) (*user.User, error) {
	if strings.TrimSpace(claims.Email) == "" {
		return nil, apperr.ErrEmailNotFromProvider
	}

	existing, err := l.lookup(ctx, claims)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return l.matchProvider(existing, provider)
	}

	secret, err := l.newSecret()
	if err != nil {
		return nil, oops.Code("TWO_FACTOR_SECRET_FAILED").Wrap(err)
	}

	u := &user.User{
		ID:              l.newID(),
		Email:           claims.Email,
		Provider:        provider,
		ProviderID:      claims.ID,
		EmailVerified:   true,
		TwoFactorSecret: secret,
		Role:            user.RoleUser,
		ImageID:         l.saveAvatar(ctx, provider, claims),
	}
	return l.create(ctx, u, baseName(claims), provider, claims)
}

func (l *Linker) lookup(ctx context.Context, claims Claims) (*user.User, error) {
	if claims.ID != "" {
		u, err := l.users.FindByProviderID(ctx, claims.ID)
		switch {
		case err == nil:
			return u, nil
		case !errors.Is(err, user.ErrNotFound):
			return nil, directoryErr(err, "find by provider id")
		}
	}

	u, err := l.users.FindByEmail(ctx, claims.Email)
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, user.ErrNotFound):
		return nil, nil
	default:
		return nil, directoryErr(err, "find by email")
	}
}

func (l *Linker) matchProvider(u *user.User, provider user.AuthProvider) (*user.User, error) {
	if u.Provider != provider {
		return nil, apperr.ProviderConflict(u.Provider.String(), u.Email)
	}
	return u, nil
}

// create claims a free username for u and saves it. A concurrent claim of the
// same name surfaces as user.ErrDuplicate and restarts the search from the next
// counter; a concurrent claim of the same email resolves to that account.
func (l *Linker) create(ctx context.Context, u *user.User, name string, provider user.AuthProvider, claims Claims) (*user.User, error) {
	start := 0
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		candidate, n, err := l.freeName(ctx, name, start)
		if err != nil {
			return nil, err
		}
		u.Name = candidate

		err = l.users.Save(ctx, u)
		if err == nil {
			l.log.Info("federated account created",
				logging.UserID(u.ID),
				logging.Provider(provider.String()),
			)
			return u, nil
		}
		if !errors.Is(err, user.ErrDuplicate) {
			return nil, directoryErr(err, "save")
		}

		taken, lookupErr := l.lookup(ctx, claims)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if taken != nil {
			return l.matchProvider(taken, provider)
		}
		start = n + 1
	}
	return nil, oops.Code("USERNAME_CLAIM_EXHAUSTED").
		With("name", name).
		With("attempts", maxNameAttempts).
		Errorf("could not claim a free username")
}

// freeName returns name itself when start is 0 and the name is free, otherwise
// the smallest name+n with n >= max(start, 1) that is free.
func (l *Linker) freeName(ctx context.Context, name string, start int) (string, int, error) {
	if start == 0 {
		exists, err := l.users.ExistsByName(ctx, name)
		if err != nil {
			return "", 0, directoryErr(err, "exists by name")
		}
		if !exists {
			return name, 0, nil
		}
		start = 1
	}
	for n := start; ; n++ {
		candidate := name + strconv.Itoa(n)
		exists, err := l.users.ExistsByName(ctx, candidate)
		if err != nil {
			return "", 0, directoryErr(err, "exists by name")
		}
		if !exists {
			return candidate, n, nil
		}
	}
}

// saveAvatar downloads and stores the provider image. Any failure falls back
// to the default image.
func (l *Linker) saveAvatar(ctx context.Context, provider user.AuthProvider, claims Claims) string {
	if claims.ImageURL == "" || l.files == nil {
		return l.cfg.DefaultImage
	}

	data, contentType, err := l.fetchAvatar(ctx, claims.ImageURL)
	if err == nil {
		var id string
		id, err = l.files.Save(ctx, l.cfg.ProfileImageName, contentType, data)
		if err == nil {
			return id
		}
	}

	fields := []zap.Field{logging.Provider(provider.String()), zap.String("image_url", claims.ImageURL)}
	l.log.Warn("avatar skipped", append(fields, logging.Err(err)...)...)
	return l.cfg.DefaultImage
}

func (l *Linker) fetchAvatar(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("avatar fetch failed: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.cfg.AvatarMaxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > l.cfg.AvatarMaxBytes {
		return nil, "", errAvatarTooLarge
	}

	contentType := defaultAvatarMimeType
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt != "" {
		contentType = mt
	}
	return data, contentType, nil
}

func baseName(claims Claims) string {
	if name := strings.TrimSpace(claims.Name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(claims.Email, "@")
	return local
}

func directoryErr(err error, op string) error {
	return oops.Code("USER_DIRECTORY_UNAVAILABLE").With("operation", op).Wrap(err)
}
