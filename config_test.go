package goAccount_test

import (
	"context"
	"testing"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDefaultConfigNeedsKeysAndLinks(t *testing.T) {
	cfg := goAccount.DefaultConfig()
	assert.Equal(t, "Fullstack", cfg.App.Name)
	assert.Equal(t, 15*time.Minute, cfg.Tokens.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Tokens.RefreshTTL)
	assert.Equal(t, "rt_cookie", cfg.Cookie.Name)
	assert.Error(t, cfg.Validate())

	assert.NoError(t, func() error { c := testConfig(); return c.Validate() }())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*goAccount.Config)
		want   string
	}{
		{"app name", func(c *goAccount.Config) { c.App.Name = " " }, "App Name is required"},
		{"hs256 key", func(c *goAccount.Config) { c.JWT.PrivateKey = nil }, "hs256 requires PrivateKey"},
		{"ed25519 keys", func(c *goAccount.Config) { c.JWT.SigningMethod = "ed25519" }, "ed25519 requires PrivateKey and PublicKey"},
		{"method", func(c *goAccount.Config) { c.JWT.SigningMethod = "rs256" }, `unsupported JWT signing method "rs256"`},
		{"leeway", func(c *goAccount.Config) { c.JWT.Leeway = -time.Second }, "JWT Leeway must be >= 0"},
		{"access ttl", func(c *goAccount.Config) { c.Tokens.AccessTTL = 0 }, "Tokens AccessTTL must be > 0"},
		{"refresh ttl", func(c *goAccount.Config) { c.Tokens.RefreshTTL = 0 }, "Tokens RefreshTTL must be > 0"},
		{"verification ttl", func(c *goAccount.Config) { c.Tokens.VerificationTTL = 0 }, "Tokens VerificationTTL must be > 0"},
		{"access outlives refresh", func(c *goAccount.Config) { c.Tokens.AccessTTL = 3 * time.Hour }, "Tokens AccessTTL must not exceed RefreshTTL"},
		{"missing link", func(c *goAccount.Config) { c.Links.EmailChangeURI = "" }, "Links EmailChangeURI is required"},
		{"relative link", func(c *goAccount.Config) { c.Links.ActivationURI = "/activate" }, "Links ActivationURI must be an absolute URI"},
		{"cookie name", func(c *goAccount.Config) { c.Cookie.Name = "" }, "Cookie Name is required"},
		{"same site", func(c *goAccount.Config) { c.Cookie.SameSite = "sometimes" }, `Cookie SameSite "sometimes" is not supported`},
		{"insecure none", func(c *goAccount.Config) { c.Cookie.SameSite = "None"; c.Cookie.Secure = false }, "Cookie SameSite none requires Secure"},
		{"qr size", func(c *goAccount.Config) { c.TwoFactor.QRSize = -1 }, "TwoFactor QRSize must be >= 0"},
		{"avatar", func(c *goAccount.Config) { c.Federation.AvatarMaxBytes = -1 }, "Federation avatar limits must be >= 0"},
		{"cache", func(c *goAccount.Config) { c.Cache.Size = -1 }, "Cache Size must be >= 0"},
		{"sweep", func(c *goAccount.Config) { c.Sweep.Interval = -time.Second }, "Sweep Interval must be >= 0"},
		{"audit buffer", func(c *goAccount.Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 }, "Audit BufferSize must be > 0 when enabled"},
		{"mail from", func(c *goAccount.Config) { c.Mail.From = "noreply" }, "Mail From must be an email address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			assert.EqualError(t, cfg.Validate(), tc.want)
		})
	}
}

func TestBuildRequiresCollaborators(t *testing.T) {
	full := func() *goAccount.Builder {
		return goAccount.New().
			WithConfig(testConfig()).
			WithDirectory(memory.NewDirectory()).
			WithTokenRepository(memory.NewTokens()).
			WithRecoveryCodes(memory.NewRecoveryCodes()).
			WithMailer(&mail.RecordingSender{}).
			WithHasher(plainHasher{})
	}

	cases := []struct {
		name string
		b    *goAccount.Builder
		want string
	}{
		{"directory", full().WithDirectory(nil), "user directory required"},
		{"tokens", full().WithTokenRepository(nil), "token repository required"},
		{"recovery", full().WithRecoveryCodes(nil), "recovery code repository required"},
		{"mailer", full().WithMailer(nil), "mailer required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.b.Build()
			assert.EqualError(t, err, tc.want)
		})
	}

	b := full()
	e, err := b.Build()
	require.NoError(t, err)
	defer e.Close()
	_, err = b.Build()
	assert.EqualError(t, err, "builder already used")

	assert.PanicsWithValue(t, "goAccount: builder already used", func() { b.MustBuild() })
}

func TestBuildCopiesConfig(t *testing.T) {
	cfg := testConfig()
	e, err := goAccount.New().
		WithConfig(cfg).
		WithDirectory(memory.NewDirectory()).
		WithTokenRepository(memory.NewTokens()).
		WithRecoveryCodes(memory.NewRecoveryCodes()).
		WithMailer(&mail.RecordingSender{}).
		WithHasher(plainHasher{}).
		Build()
	require.NoError(t, err)
	defer e.Close()

	cfg.JWT.PrivateKey[0] = 'X'
	cfg.App.Name = "changed"
	got := e.Config()
	assert.Equal(t, byte('0'), got.JWT.PrivateKey[0])
	assert.Equal(t, "Fullstack", got.App.Name)
}

func TestCloseStopsSweeper(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Sweep.Interval = time.Millisecond
	cfg.Audit.Enabled = true
	e, err := goAccount.New().
		WithConfig(cfg).
		WithDirectory(memory.NewDirectory()).
		WithTokenRepository(memory.NewTokens()).
		WithRecoveryCodes(memory.NewRecoveryCodes()).
		WithMailer(&mail.RecordingSender{}).
		WithHasher(plainHasher{}).
		WithAuditSink(&recordingSink{}).
		Build()
	require.NoError(t, err)

	stop := e.StartSweeper(context.Background())
	again := e.StartSweeper(context.Background())
	require.NotNil(t, again)
	time.Sleep(5 * time.Millisecond)

	e.Close()
	e.Close()
	stop()
}
