package goAccount

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goAccount/identity"
	"github.com/MrEthical07/goAccount/jwt"
	"github.com/MrEthical07/goAccount/user"
)

// Config groups every engine setting. Build it from DefaultConfig and
// override what differs.
type Config struct {
	App        AppConfig        `yaml:"app"`
	JWT        JWTConfig        `yaml:"jwt"`
	Tokens     TokensConfig     `yaml:"tokens"`
	Links      LinksConfig      `yaml:"links"`
	Cookie     CookieConfig     `yaml:"cookie"`
	TwoFactor  TwoFactorConfig  `yaml:"two_factor"`
	Federation FederationConfig `yaml:"federation"`
	Cache      CacheConfig      `yaml:"cache"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Audit      AuditConfig      `yaml:"audit"`
	Mail       MailConfig       `yaml:"mail"`
}

/*
====================================
APP CONFIG
====================================
*/

// AppConfig names the service in email subjects and authenticator apps.
type AppConfig struct {
	Name string `yaml:"name"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig selects the signing algorithm and keys for token values.
type JWTConfig struct {
	SigningMethod string `yaml:"signing_method"` // "hs256" (default) or "ed25519"

	// PrivateKey is the HS256 shared secret or an Ed25519 private key.
	PrivateKey []byte `yaml:"-"`
	PublicKey  []byte `yaml:"-"`

	Issuer string        `yaml:"issuer"`
	Leeway time.Duration `yaml:"leeway"`
}

/*
====================================
TOKEN LIFETIMES
====================================
*/

// TokensConfig holds the lifetime of each token family.
type TokensConfig struct {
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// VerificationTTL covers activation, email change and password reset tokens.
	VerificationTTL time.Duration `yaml:"verification_ttl"`
}

/*
====================================
LINKS
====================================
*/

// LinksConfig holds the base URIs emailed to users. The token (and, for
// password reset, the email) are appended as query parameters.
type LinksConfig struct {
	ActivationURI    string `yaml:"activation_uri"`
	EmailChangeURI   string `yaml:"email_change_uri"`
	PasswordResetURI string `yaml:"password_reset_uri"`
}

/*
====================================
COOKIE
====================================
*/

// CookieConfig shapes the refresh cookie.
type CookieConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Domain   string `yaml:"domain"`
	Secure   bool   `yaml:"secure"`
	HTTPOnly bool   `yaml:"http_only"`
	// SameSite is one of "none", "lax", "strict" or "default".
	SameSite string `yaml:"same_site"`
}

/*
====================================
TWO-FACTOR
====================================
*/

// TwoFactorConfig holds provisioning settings. An empty Issuer falls back to
// App.Name.
type TwoFactorConfig struct {
	Issuer string `yaml:"issuer"`
	QRSize int    `yaml:"qr_size"`
}

/*
====================================
FEDERATION
====================================
*/

// FederationConfig controls avatar import for accounts created from a
// third-party identity.
type FederationConfig struct {
	AvatarTimeout    time.Duration `yaml:"avatar_timeout"`
	AvatarMaxBytes   int64         `yaml:"avatar_max_bytes"`
	ProfileImageName string        `yaml:"profile_image_name"`
	DefaultImage     string        `yaml:"default_image"`
}

/*
====================================
CACHE / SWEEP / AUDIT / MAIL
====================================
*/

// CacheConfig sizes the user lookup cache. Zero disables it.
type CacheConfig struct {
	Size int `yaml:"size"`
}

// SweepConfig sets how often invalid persisted tokens are removed. Zero
// leaves sweeping to the caller.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// AuditConfig controls the audit event dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MailConfig holds outgoing mail settings used by the engine itself.
type MailConfig struct {
	From string `yaml:"from"`
}

// DefaultConfig returns the baseline configuration. JWT keys and link URIs
// have no usable default and must be set.
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Name: "Fullstack"},
		JWT: JWTConfig{
			SigningMethod: string(jwt.MethodHS256),
		},
		Tokens: TokensConfig{
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      30 * 24 * time.Hour,
			VerificationTTL: 24 * time.Hour,
		},
		Cookie: CookieConfig{
			Name:     "rt_cookie",
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			SameSite: "none",
		},
		TwoFactor: TwoFactorConfig{QRSize: 256},
		Federation: FederationConfig{
			AvatarTimeout:    identity.DefaultAvatarTimeout,
			AvatarMaxBytes:   identity.DefaultAvatarMaxBytes,
			ProfileImageName: identity.DefaultProfileImageName,
			DefaultImage:     identity.DefaultImage,
		},
		Cache: CacheConfig{Size: user.DefaultCacheSize},
		Sweep: SweepConfig{Interval: time.Hour},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Mail: MailConfig{From: "noreply@fullstack.com"},
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.App.Name) == "" {
		return errors.New("App Name is required")
	}

	// JWT
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Tokens
	if c.Tokens.AccessTTL <= 0 {
		return errors.New("Tokens AccessTTL must be > 0")
	}
	if c.Tokens.RefreshTTL <= 0 {
		return errors.New("Tokens RefreshTTL must be > 0")
	}
	if c.Tokens.VerificationTTL <= 0 {
		return errors.New("Tokens VerificationTTL must be > 0")
	}
	if c.Tokens.AccessTTL > c.Tokens.RefreshTTL {
		return errors.New("Tokens AccessTTL must not exceed RefreshTTL")
	}

	// Links
	for _, link := range []struct{ name, raw string }{
		{"ActivationURI", c.Links.ActivationURI},
		{"EmailChangeURI", c.Links.EmailChangeURI},
		{"PasswordResetURI", c.Links.PasswordResetURI},
	} {
		if link.raw == "" {
			return fmt.Errorf("Links %s is required", link.name)
		}
		u, err := url.Parse(link.raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("Links %s must be an absolute URI", link.name)
		}
	}

	// Cookie
	if strings.TrimSpace(c.Cookie.Name) == "" {
		return errors.New("Cookie Name is required")
	}
	if _, err := parseSameSite(c.Cookie.SameSite); err != nil {
		return err
	}
	if strings.EqualFold(c.Cookie.SameSite, "none") && !c.Cookie.Secure {
		return errors.New("Cookie SameSite none requires Secure")
	}

	if c.TwoFactor.QRSize < 0 {
		return errors.New("TwoFactor QRSize must be >= 0")
	}
	if c.Federation.AvatarTimeout < 0 || c.Federation.AvatarMaxBytes < 0 {
		return errors.New("Federation avatar limits must be >= 0")
	}
	if c.Cache.Size < 0 {
		return errors.New("Cache Size must be >= 0")
	}
	if c.Sweep.Interval < 0 {
		return errors.New("Sweep Interval must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if !strings.Contains(c.Mail.From, "@") {
		return errors.New("Mail From must be an email address")
	}
	return nil
}

func (c Config) twoFactorIssuer() string {
	if c.TwoFactor.Issuer != "" {
		return c.TwoFactor.Issuer
	}
	return c.App.Name
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(v) {
	case "none":
		return http.SameSiteNoneMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "", "default":
		return http.SameSiteDefaultMode, nil
	default:
		return 0, fmt.Errorf("Cookie SameSite %q is not supported", v)
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
