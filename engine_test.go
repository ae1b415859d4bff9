package goAccount_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/password"
	"github.com/MrEthical07/goAccount/store/memory"
	"github.com/MrEthical07/goAccount/token"
	"github.com/MrEthical07/goAccount/twofactor"
	"github.com/MrEthical07/goAccount/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// plainHasher keeps tests fast; Argon2id is covered in the password package.
type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) {
	if pw == "" {
		return "", password.ErrEmptyPassword
	}
	return "plain$" + pw, nil
}

func (plainHasher) Verify(pw, encoded string) (bool, error) {
	return encoded == "plain$"+pw, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []goAccount.AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, ev goAccount.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, string(ev.Type))
	}
	return out
}

type fixture struct {
	engine *goAccount.Engine
	users  *memory.Directory
	tokens *memory.Tokens
	codes  *memory.RecoveryCodes
	mails  *mail.RecordingSender
	clock  *testClock
}

func testConfig() goAccount.Config {
	cfg := goAccount.DefaultConfig()
	cfg.JWT.PrivateKey = testKey
	cfg.JWT.Issuer = "goaccount-test"
	cfg.Tokens.AccessTTL = 5 * time.Minute
	cfg.Tokens.RefreshTTL = 2 * time.Hour
	cfg.Tokens.VerificationTTL = 30 * time.Minute
	cfg.Links.ActivationURI = "https://app.example.com/activate"
	cfg.Links.EmailChangeURI = "https://app.example.com/email/confirm"
	cfg.Links.PasswordResetURI = "https://app.example.com/password/reset"
	cfg.Cache.Size = 16
	return cfg
}

type fixtureOption func(*goAccount.Builder, *goAccount.Config)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		users:  memory.NewDirectory(),
		tokens: memory.NewTokens(),
		codes:  memory.NewRecoveryCodes(),
		mails:  &mail.RecordingSender{},
		clock:  &testClock{now: time.Unix(1_700_000_000, 0)},
	}
	cfg := testConfig()
	b := goAccount.New().
		WithDirectory(f.users).
		WithTokenRepository(f.tokens).
		WithRecoveryCodes(f.codes).
		WithMailer(f.mails).
		WithHasher(plainHasher{}).
		WithClock(f.clock.Now)
	for _, opt := range opts {
		opt(b, &cfg)
	}
	e, err := b.WithConfig(cfg).Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	f.engine = e
	return f
}

func linkParams(t *testing.T, msg mail.Message) url.Values {
	t.Helper()
	fields := strings.Fields(msg.Body)
	require.NotEmpty(t, fields)
	u, err := url.Parse(fields[len(fields)-1])
	require.NoError(t, err)
	return u.Query()
}

func (f *fixture) lastMailTo(t *testing.T, addr string) mail.Message {
	t.Helper()
	msg, ok := f.mails.Last(addr)
	require.True(t, ok, "no mail sent to %s", addr)
	return msg
}

// activeUser signs up and activates an account through the engine.
func (f *fixture) activeUser(t *testing.T, name, email, pw string) *user.User {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.Signup(ctx, goAccount.Signup{Name: name, Email: email, Password: pw})
	require.NoError(t, err)
	u, err := f.engine.ActivateAccount(ctx, linkParams(t, f.lastMailTo(t, email)).Get("token"))
	require.NoError(t, err)
	return u
}

func (f *fixture) login(t *testing.T, email, pw string) (*goAccount.SessionResult, *http.Cookie) {
	t.Helper()
	rc := goAccount.NewRequestContext()
	res, err := f.engine.Login(context.Background(), rc, goAccount.Credentials{Email: email, Password: pw})
	require.NoError(t, err)
	out := rc.Outgoing()
	require.Len(t, out, 1)
	return res, out[0]
}

func (f *fixture) countTokens(t *testing.T, userID string, typ token.Type) int {
	t.Helper()
	toks, err := f.tokens.FindByUserAndType(context.Background(), userID, typ)
	require.NoError(t, err)
	return len(toks)
}

func TestSignupThenActivate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.engine.Signup(ctx, goAccount.Signup{Name: "Ann", Email: "ann@x.com", Password: "pw"})
	require.NoError(t, err)
	assert.False(t, u.EmailVerified)
	assert.Equal(t, user.ProviderLocal, u.Provider)
	assert.Equal(t, user.RoleUser, u.Role)
	assert.Equal(t, "blank-profile-picture.png", u.ImageID)

	_, err = f.engine.Login(ctx, goAccount.NewRequestContext(), goAccount.Credentials{Email: "ann@x.com", Password: "pw"})
	assert.ErrorIs(t, err, goAccount.ErrAccountNotActivated)

	msg := f.lastMailTo(t, "ann@x.com")
	assert.Equal(t, "Fullstack account activation", msg.Subject)
	assert.Equal(t, "noreply@fullstack.com", msg.From)
	assert.Contains(t, msg.Body, "https://app.example.com/activate?token=")
	value := linkParams(t, msg).Get("token")

	activated, err := f.engine.ActivateAccount(ctx, value)
	require.NoError(t, err)
	assert.True(t, activated.EmailVerified)
	assert.Equal(t, 0, f.countTokens(t, u.ID, token.AccountActivation))

	_, err = f.engine.ActivateAccount(ctx, value)
	assert.ErrorIs(t, err, goAccount.ErrInvalidToken)

	f.login(t, "ann@x.com", "pw")
}

func TestActivateAccountConcurrentlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.engine.Signup(ctx, goAccount.Signup{Name: "Ann", Email: "ann@x.com", Password: "pw"})
	require.NoError(t, err)
	value := linkParams(t, f.lastMailTo(t, "ann@x.com")).Get("token")

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.ActivateAccount(ctx, value); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, goAccount.ErrInvalidToken)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestActivateAccountExpiredTokenIsRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u, err := f.engine.Signup(ctx, goAccount.Signup{Name: "Ann", Email: "ann@x.com", Password: "pw"})
	require.NoError(t, err)
	value := linkParams(t, f.lastMailTo(t, "ann@x.com")).Get("token")

	f.clock.Advance(31 * time.Minute)
	_, err = f.engine.ActivateAccount(ctx, value)
	assert.ErrorIs(t, err, goAccount.ErrTokenExpired)
	assert.Equal(t, 0, f.countTokens(t, u.ID, token.AccountActivation))

	stored, err := f.users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, stored.EmailVerified)
}

func TestSignupChecksEmailBeforeName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activeUser(t, "Ann", "ann@x.com", "pw")
	sent := len(f.mails.Sent())

	cases := []struct {
		name  string
		in    goAccount.Signup
		want  error
	}{
		{"email taken", goAccount.Signup{Name: "Bob", Email: "ANN@x.com", Password: "pw"}, goAccount.ErrEmailInUse},
		{"name taken", goAccount.Signup{Name: "Ann", Email: "bob@x.com", Password: "pw"}, goAccount.ErrUsernameInUse},
		{"both taken", goAccount.Signup{Name: "Ann", Email: "ann@x.com", Password: "pw"}, goAccount.ErrEmailInUse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Signup(ctx, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, 1, f.users.Len())
	assert.Len(t, f.mails.Sent(), sent)
}

type failingTokenSaves struct {
	token.Repository
	err error
}

func (r failingTokenSaves) Save(context.Context, *token.SecurityToken) error { return r.err }

func TestSignupRemovesAccountWhenTokenFails(t *testing.T) {
	ctx := context.Background()
	users := memory.NewDirectory()
	e, err := goAccount.New().
		WithConfig(testConfig()).
		WithDirectory(users).
		WithTokenRepository(failingTokenSaves{Repository: memory.NewTokens(), err: errors.New("disk full")}).
		WithRecoveryCodes(memory.NewRecoveryCodes()).
		WithMailer(&mail.RecordingSender{}).
		WithHasher(plainHasher{}).
		Build()
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Signup(ctx, goAccount.Signup{Name: "Ann", Email: "ann@x.com", Password: "pw"})
	assert.ErrorIs(t, err, goAccount.ErrInternal)
	assert.Equal(t, 0, users.Len())
}

func TestSignupSurvivesMailFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mails.Err = errors.New("smtp down")

	u, err := f.engine.Signup(ctx, goAccount.Signup{Name: "Ann", Email: "ann@x.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.users.Len())
	assert.Equal(t, 1, f.countTokens(t, u.ID, token.AccountActivation))
}

func TestLoginIssuesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")

	for _, creds := range []goAccount.Credentials{
		{Email: "ann@x.com", Password: "nope"},
		{Email: "nobody@x.com", Password: "pw"},
		{Email: "ann@x.com", Password: ""},
	} {
		_, err := f.engine.Login(ctx, goAccount.NewRequestContext(), creds)
		assert.ErrorIs(t, err, goAccount.ErrUnauthorized)
	}

	res, cookie := f.login(t, "ann@x.com", "pw")
	assert.Equal(t, "Bearer", res.TokenType)
	assert.False(t, res.TwoFactorRequired)
	assert.True(t, res.ExpiresAt.Equal(f.clock.Now().Add(5*time.Minute)))

	assert.Equal(t, "rt_cookie", cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteNoneMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.True(t, cookie.Expires.Equal(f.clock.Now().Add(2*time.Hour)))
	assert.Equal(t, 1, f.countTokens(t, u.ID, token.Refresh))

	id, err := f.engine.Authenticate(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	_, err = f.engine.Authenticate(ctx, cookie.Value)
	assert.ErrorIs(t, err, goAccount.ErrInvalidToken, "refresh values are not access values")

	f.clock.Advance(6 * time.Minute)
	_, err = f.engine.Authenticate(ctx, res.AccessToken)
	assert.ErrorIs(t, err, goAccount.ErrTokenExpired)
}

func enableTwoFactor(t *testing.T, f *fixture, userID string) []string {
	t.Helper()
	ctx := context.Background()
	p, err := f.engine.BeginTwoFactorSetup(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "image/png", p.MimeType)
	code, err := twofactor.GenerateCode(p.Secret, f.clock.Now())
	require.NoError(t, err)
	codes, err := f.engine.EnableTwoFactor(ctx, userID, code)
	require.NoError(t, err)
	return codes
}

func TestLoginWithVerificationCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")
	enableTwoFactor(t, f, u.ID)

	res, _ := f.login(t, "ann@x.com", "pw")
	assert.True(t, res.TwoFactorRequired)

	stored, err := f.users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	creds := goAccount.Credentials{Email: "ann@x.com", Password: "pw"}

	_, err = f.engine.LoginWithVerificationCode(ctx, goAccount.NewRequestContext(), creds, "000000x")
	assert.ErrorIs(t, err, goAccount.ErrInvalidVerificationCode)

	code, err := twofactor.GenerateCode(stored.TwoFactorSecret, f.clock.Now())
	require.NoError(t, err)
	res, err = f.engine.LoginWithVerificationCode(ctx, goAccount.NewRequestContext(), creds, code)
	require.NoError(t, err)
	assert.False(t, res.TwoFactorRequired)

	_, err = f.engine.LoginWithVerificationCode(ctx, goAccount.NewRequestContext(),
		goAccount.Credentials{Email: "ann@x.com", Password: "bad"}, code)
	assert.ErrorIs(t, err, goAccount.ErrUnauthorized)
}

func TestRecoveryCodeWorksOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")
	codes := enableTwoFactor(t, f, u.ID)
	creds := goAccount.Credentials{Email: "ann@x.com", Password: "pw"}

	_, err := f.engine.LoginWithRecoveryCode(ctx, goAccount.NewRequestContext(), creds, strings.ToLower(codes[3]))
	require.NoError(t, err)

	_, err = f.engine.LoginWithRecoveryCode(ctx, goAccount.NewRequestContext(), creds, codes[3])
	assert.ErrorIs(t, err, goAccount.ErrInvalidRecoveryCode)

	left, err := f.engine.RemainingRecoveryCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, left)
}

type switchableTokenSaves struct {
	token.Repository
	fail *atomic.Bool
}

func (r switchableTokenSaves) Save(ctx context.Context, tok *token.SecurityToken) error {
	if r.fail.Load() {
		return errors.New("disk full")
	}
	return r.Repository.Save(ctx, tok)
}

func TestRecoveryCodeSurvivesFailedSession(t *testing.T) {
	ctx := context.Background()
	fail := &atomic.Bool{}
	f := newFixture(t, func(b *goAccount.Builder, _ *goAccount.Config) {
		b.WithTokenRepository(switchableTokenSaves{Repository: memory.NewTokens(), fail: fail})
	})
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")
	codes := enableTwoFactor(t, f, u.ID)
	creds := goAccount.Credentials{Email: "ann@x.com", Password: "pw"}

	fail.Store(true)
	_, err := f.engine.LoginWithRecoveryCode(ctx, goAccount.NewRequestContext(), creds, codes[0])
	assert.ErrorIs(t, err, goAccount.ErrInternal)

	left, err := f.engine.RemainingRecoveryCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, twofactor.RecoveryCodeCount, left)

	fail.Store(false)
	_, err = f.engine.LoginWithRecoveryCode(ctx, goAccount.NewRequestContext(), creds, codes[0])
	require.NoError(t, err)
	left, err = f.engine.RemainingRecoveryCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, twofactor.RecoveryCodeCount-1, left)
}

func TestEnableTwoFactorReplacesRecoveryCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")

	first := enableTwoFactor(t, f, u.ID)
	second := enableTwoFactor(t, f, u.ID)
	require.Len(t, second, twofactor.RecoveryCodeCount)

	left, err := f.engine.RemainingRecoveryCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 16, left)

	creds := goAccount.Credentials{Email: "ann@x.com", Password: "pw"}
	for _, old := range first[:3] {
		_, err := f.engine.LoginWithRecoveryCode(ctx, goAccount.NewRequestContext(), creds, old)
		assert.ErrorIs(t, err, goAccount.ErrInvalidRecoveryCode)
	}

	_, err = f.engine.EnableTwoFactor(ctx, u.ID, "123")
	assert.ErrorIs(t, err, goAccount.ErrInvalidVerificationCode)
}

func TestDisableTwoFactor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")
	enableTwoFactor(t, f, u.ID)

	require.NoError(t, f.engine.DisableTwoFactor(ctx, u.ID))
	require.NoError(t, f.engine.DisableTwoFactor(ctx, u.ID))

	got, err := f.engine.User(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.TwoFactorEnabled)
	assert.Empty(t, got.TwoFactorSecret)
	n, err := f.codes.Count(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	res, _ := f.login(t, "ann@x.com", "pw")
	assert.False(t, res.TwoFactorRequired)
}

func TestRefreshRotatesToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")
	_, cookie := f.login(t, "ann@x.com", "pw")

	rc := goAccount.NewRequestContext(cookie)
	tok, ok, err := f.engine.RefreshTokenFromCookie(ctx, rc)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, u.ID, tok.UserID)

	res, err := f.engine.Refresh(ctx, rc)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	rotated := rc.Outgoing()
	require.Len(t, rotated, 1)
	assert.NotEqual(t, cookie.Value, rotated[0].Value)
	assert.Equal(t, 1, f.countTokens(t, u.ID, token.Refresh))

	_, err = f.engine.Refresh(ctx, goAccount.NewRequestContext(cookie))
	assert.ErrorIs(t, err, goAccount.ErrInvalidToken)

	_, err = f.engine.Refresh(ctx, goAccount.NewRequestContext(rotated[0]))
	assert.NoError(t, err)

	_, err = f.engine.Refresh(ctx, goAccount.NewRequestContext())
	assert.ErrorIs(t, err, goAccount.ErrInvalidToken)
}

func TestRefreshExpiredTokenIsRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")
	_, cookie := f.login(t, "ann@x.com", "pw")

	f.clock.Advance(3 * time.Hour)
	_, err := f.engine.Refresh(ctx, goAccount.NewRequestContext(cookie))
	assert.ErrorIs(t, err, goAccount.ErrTokenExpired)
	assert.Equal(t, 0, f.countTokens(t, u.ID, token.Refresh))
}

func TestRefreshConcurrentlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")
	_, cookie := f.login(t, "ann@x.com", "pw")

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Refresh(ctx, goAccount.NewRequestContext(cookie))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, goAccount.ErrInvalidToken)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, f.countTokens(t, u.ID, token.Refresh))
}

func TestLogoutRequiresOwnLiveToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ann := f.activeUser(t, "Ann", "ann@x.com", "pw")
	bob := f.activeUser(t, "Bob", "bob@x.com", "pw")
	_, annCookie := f.login(t, "ann@x.com", "pw")

	cases := []struct {
		name   string
		rc     *goAccount.RequestContext
		userID string
	}{
		{"no cookie", goAccount.NewRequestContext(), ann.ID},
		{"unknown value", goAccount.NewRequestContext(&http.Cookie{Name: "rt_cookie", Value: "forged"}), ann.ID},
		{"other user", goAccount.NewRequestContext(annCookie), bob.ID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.engine.Logout(ctx, tc.rc, tc.userID)
			assert.ErrorIs(t, err, goAccount.ErrTokenExpired)
			assert.Empty(t, tc.rc.Outgoing())
			assert.Equal(t, 1, f.countTokens(t, ann.ID, token.Refresh))
		})
	}

	rc := goAccount.NewRequestContext(annCookie)
	require.NoError(t, f.engine.Logout(ctx, rc, ann.ID))
	assert.Equal(t, 0, f.countTokens(t, ann.ID, token.Refresh))

	out := rc.Outgoing()
	require.Len(t, out, 1)
	assert.Equal(t, "rt_cookie", out[0].Name)
	assert.Empty(t, out[0].Value)
	assert.Less(t, out[0].MaxAge, 0)
	assert.True(t, out[0].Expires.Equal(time.Unix(0, 0)))

	_, err := f.engine.Refresh(ctx, goAccount.NewRequestContext(annCookie))
	assert.ErrorIs(t, err, goAccount.ErrInvalidToken)
}

func TestPasswordResetOnlyNewestTokenWorks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")

	require.NoError(t, f.engine.RequestPasswordReset(ctx, "ann@x.com"))
	first := f.lastMailTo(t, "ann@x.com")
	require.NoError(t, f.engine.RequestPasswordReset(ctx, "ann@x.com"))
	second := f.lastMailTo(t, "ann@x.com")

	assert.Equal(t, "Fullstack password reset", second.Subject)
	assert.Contains(t, second.Body, "https://app.example.com/password/reset?email=ann%40x.com&token=")
	assert.Equal(t, 1, f.countTokens(t, u.ID, token.ForgottenPassword))

	firstValue := linkParams(t, first).Get("token")
	secondValue := linkParams(t, second).Get("token")
	require.NotEqual(t, firstValue, secondValue)

	err := f.engine.ResetPassword(ctx, goAccount.PasswordReset{Email: "ann@x.com", Token: firstValue, NewPassword: "new"})
	assert.ErrorIs(t, err, goAccount.ErrInvalidToken)

	require.NoError(t, f.engine.ResetPassword(ctx, goAccount.PasswordReset{Email: "ann@x.com", Token: secondValue, NewPassword: "new"}))
	f.login(t, "ann@x.com", "new")

	err = f.engine.ResetPassword(ctx, goAccount.PasswordReset{Email: "ann@x.com", Token: secondValue, NewPassword: "again"})
	assert.ErrorIs(t, err, goAccount.ErrInvalidToken)
}

func TestPasswordResetEdgeCases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")

	assert.ErrorIs(t, f.engine.RequestPasswordReset(ctx, "nobody@x.com"), goAccount.ErrUserNotFound)
	err := f.engine.ResetPassword(ctx, goAccount.PasswordReset{Email: "nobody@x.com", Token: "x", NewPassword: "n"})
	assert.ErrorIs(t, err, goAccount.ErrUserNotFound)

	require.NoError(t, f.engine.RequestPasswordReset(ctx, "ann@x.com"))
	value := linkParams(t, f.lastMailTo(t, "ann@x.com")).Get("token")

	f.clock.Advance(time.Hour)
	err = f.engine.ResetPassword(ctx, goAccount.PasswordReset{Email: "ann@x.com", Token: value, NewPassword: "new"})
	assert.ErrorIs(t, err, goAccount.ErrTokenExpired)
	assert.Equal(t, 0, f.countTokens(t, u.ID, token.ForgottenPassword))
	f.login(t, "ann@x.com", "pw")
}

func TestPasswordResetMailFailureIsTransient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activeUser(t, "Ann", "ann@x.com", "pw")
	f.mails.Err = errors.New("smtp down")

	err := f.engine.RequestPasswordReset(ctx, "ann@x.com")
	require.Error(t, err)
	var ae *goAccount.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "transientFailure", ae.Key)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")

	assert.ErrorIs(t, f.engine.ChangePassword(ctx, u.ID, "wrong", "new"), goAccount.ErrUnauthorized)
	require.NoError(t, f.engine.ChangePassword(ctx, u.ID, "pw", "new"))

	_, err := f.engine.Login(ctx, goAccount.NewRequestContext(), goAccount.Credentials{Email: "ann@x.com", Password: "pw"})
	assert.ErrorIs(t, err, goAccount.ErrUnauthorized)
	f.login(t, "ann@x.com", "new")
}

func TestUpdateProfileChangesNameAndStartsEmailChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")

	got, err := f.engine.UpdateProfile(ctx, u.ID, goAccount.ProfileUpdate{Name: "Annie", Email: "annie@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "Annie", got.Name)
	assert.Equal(t, "ann@x.com", got.Email)
	assert.Equal(t, "annie@x.com", got.PendingEmail)

	msg := f.lastMailTo(t, "annie@x.com")
	assert.Equal(t, "Fullstack email change confirmation", msg.Subject)
	assert.Contains(t, msg.Body, "ann@x.com")
	assert.Contains(t, msg.Body, "annie@x.com")
	assert.Contains(t, msg.Body, "https://app.example.com/email/confirm?token=")
	value := linkParams(t, msg).Get("token")

	confirmed, err := f.engine.ConfirmEmailChange(ctx, value)
	require.NoError(t, err)
	assert.Equal(t, "annie@x.com", confirmed.Email)
	assert.Empty(t, confirmed.PendingEmail)

	f.login(t, "annie@x.com", "pw")
	_, err = f.engine.ConfirmEmailChange(ctx, value)
	assert.ErrorIs(t, err, goAccount.ErrInvalidToken)
}

func TestUpdateProfileRejectsTakenValues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ann := f.activeUser(t, "Ann", "ann@x.com", "pw")
	f.activeUser(t, "Bob", "bob@x.com", "pw")

	_, err := f.engine.UpdateProfile(ctx, ann.ID, goAccount.ProfileUpdate{Name: "Bob", Email: "ann@x.com"})
	assert.ErrorIs(t, err, goAccount.ErrUsernameInUse)
	_, err = f.engine.UpdateProfile(ctx, ann.ID, goAccount.ProfileUpdate{Name: "Annie", Email: "bob@x.com"})
	assert.ErrorIs(t, err, goAccount.ErrEmailInUse)
	_, err = f.engine.UpdateProfile(ctx, "missing", goAccount.ProfileUpdate{Name: "X"})
	assert.ErrorIs(t, err, goAccount.ErrUserNotFound)

	stored, err := f.users.FindByID(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", stored.Name)
	assert.Empty(t, stored.PendingEmail)
	assert.Equal(t, 0, f.countTokens(t, ann.ID, token.EmailUpdate))
}

func TestConfirmEmailChangeWhenAddressTakenMeanwhile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ann := f.activeUser(t, "Ann", "ann@x.com", "pw")

	require.NoError(t, f.engine.RequestEmailChange(ctx, ann.ID, "new@x.com"))
	value := linkParams(t, f.lastMailTo(t, "new@x.com")).Get("token")
	f.activeUser(t, "Bob", "new@x.com", "pw")

	_, err := f.engine.ConfirmEmailChange(ctx, value)
	assert.ErrorIs(t, err, goAccount.ErrEmailInUse)
	assert.Equal(t, 1, f.countTokens(t, ann.ID, token.EmailUpdate))

	stored, err := f.users.FindByID(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, "ann@x.com", stored.Email)
}

func TestCancelAccountCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")
	enableTwoFactor(t, f, u.ID)
	f.login(t, "ann@x.com", "pw")
	require.NoError(t, f.engine.RequestPasswordReset(ctx, "ann@x.com"))

	require.NoError(t, f.engine.CancelAccount(ctx, u.ID))
	assert.Equal(t, 0, f.users.Len())
	assert.Equal(t, 0, f.tokens.Len())
	n, err := f.codes.Count(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, f.engine.CancelAccount(ctx, u.ID))
	_, err = f.engine.User(ctx, u.ID)
	assert.ErrorIs(t, err, goAccount.ErrUserNotFound)
}

func TestSweepTokensKeepsLiveOnes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")
	f.login(t, "ann@x.com", "pw")
	require.NoError(t, f.engine.RequestPasswordReset(ctx, "ann@x.com"))
	require.NoError(t, f.tokens.Save(ctx, &token.SecurityToken{
		ID: "forged", Value: "not-a-jwt", Type: token.Refresh, UserID: u.ID,
		CreatedAt: f.clock.Now(), ExpiresAt: f.clock.Now().Add(time.Hour),
	}))

	f.clock.Advance(time.Hour)
	n, err := f.engine.SweepTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.countTokens(t, u.ID, token.Refresh))
	assert.Equal(t, 0, f.countTokens(t, u.ID, token.ForgottenPassword))
}

func TestAuditEventsAreDispatched(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	f := newFixture(t, func(b *goAccount.Builder, cfg *goAccount.Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.DropIfFull = false
		b.WithAuditSink(sink)
	})
	u := f.activeUser(t, "Ann", "ann@x.com", "pw")
	_, err := f.engine.Login(ctx, goAccount.NewRequestContext(), goAccount.Credentials{Email: "ann@x.com", Password: "bad"})
	require.Error(t, err)
	_, cookie := f.login(t, "ann@x.com", "pw")
	require.NoError(t, f.engine.Logout(ctx, goAccount.NewRequestContext(cookie), u.ID))
	f.engine.Close()

	assert.Equal(t, []string{
		"account_created",
		"token_consumed",
		"login_failure",
		"login_success",
		"logout",
	}, sink.types())
	assert.Zero(t, f.engine.AuditDropped())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, ev := range sink.events {
		assert.Equal(t, f.clock.Now(), ev.Timestamp)
	}
}
