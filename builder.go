package goAccount

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/goAccount/identity"
	"github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/internal/logging"
	"github.com/MrEthical07/goAccount/jwt"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/metrics"
	"github.com/MrEthical07/goAccount/password"
	"github.com/MrEthical07/goAccount/token"
	"github.com/MrEthical07/goAccount/twofactor"
	"github.com/MrEthical07/goAccount/user"
	"go.uber.org/zap"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config     Config
	users      user.Directory
	tokens     token.Repository
	recovery   twofactor.Repository
	mailer     mail.Sender
	files      identity.FileStore
	hasher     password.Hasher
	messages   MessageCatalog
	logger     *zap.Logger
	metrics    *metrics.Metrics
	auditSink  audit.Sink
	httpClient *http.Client
	now        func() time.Time
	built      bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDirectory sets the user directory. Required.
func (b *Builder) WithDirectory(d user.Directory) *Builder {
	b.users = d
	return b
}

// WithTokenRepository sets where refresh and single-use tokens are kept. Required.
func (b *Builder) WithTokenRepository(r token.Repository) *Builder {
	b.tokens = r
	return b
}

// WithRecoveryCodes sets the recovery code repository. Required.
func (b *Builder) WithRecoveryCodes(r twofactor.Repository) *Builder {
	b.recovery = r
	return b
}

// WithMailer sets the sender for activation, email change and reset mails. Required.
func (b *Builder) WithMailer(s mail.Sender) *Builder {
	b.mailer = s
	return b
}

// WithFileStore sets where imported avatars are saved. Without one every
// federated account gets the default image.
func (b *Builder) WithFileStore(f identity.FileStore) *Builder {
	b.files = f
	return b
}

// WithHasher overrides the default Argon2id hasher.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithMessages overrides DefaultMessages.
func (b *Builder) WithMessages(m MessageCatalog) *Builder {
	b.messages = m
	return b
}

// WithLogger sets the engine logger. Without one the engine logs nothing.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetrics sets the Prometheus counters the engine records into. Without
// one nothing is recorded.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithAuditSink sets the audit destination. Events are only dispatched when
// Config.Audit.Enabled is set; the default sink logs through the engine logger.
func (b *Builder) WithAuditSink(s AuditSink) *Builder {
	b.auditSink = s
	return b
}

// WithHTTPClient sets the client used to fetch federated avatars.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// WithClock overrides the time source of token signing, code verification
// and cookie expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case b.users == nil:
		return nil, errors.New("user directory required")
	case b.tokens == nil:
		return nil, errors.New("token repository required")
	case b.recovery == nil:
		return nil, errors.New("recovery code repository required")
	case b.mailer == nil:
		return nil, errors.New("mailer required")
	}

	log := logging.OrNop(b.logger)
	now := b.now
	if now == nil {
		now = time.Now
	}

	users := b.users
	if cfg.Cache.Size > 0 {
		cached, err := user.NewCachedDirectory(b.users, cfg.Cache.Size)
		if err != nil {
			return nil, fmt.Errorf("user cache: %w", err)
		}
		users = cached
	}

	signer, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
	}, jwt.WithClock(now))
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewStore(signer, b.tokens,
		token.WithLogger(log.Named("token")),
		token.WithMetrics(b.metrics),
	)
	if err != nil {
		return nil, err
	}

	tf, err := twofactor.NewManager(twofactor.Config{
		Issuer: cfg.twoFactorIssuer(),
		QRSize: cfg.TwoFactor.QRSize,
	}, users, b.recovery, twofactor.WithClock(now))
	if err != nil {
		return nil, err
	}

	linkerOpts := []identity.Option{
		identity.WithLogger(log.Named("identity")),
		identity.WithSecretGenerator(tf.GenerateSecret),
	}
	if b.httpClient != nil {
		linkerOpts = append(linkerOpts, identity.WithHTTPClient(b.httpClient))
	}
	linker, err := identity.NewLinker(identity.Config{
		AvatarTimeout:    cfg.Federation.AvatarTimeout,
		AvatarMaxBytes:   cfg.Federation.AvatarMaxBytes,
		ProfileImageName: cfg.Federation.ProfileImageName,
		DefaultImage:     cfg.Federation.DefaultImage,
	}, users, b.files, linkerOpts...)
	if err != nil {
		return nil, err
	}

	hasher := b.hasher
	if hasher == nil {
		h, err := password.NewArgon2(password.DefaultConfig())
		if err != nil {
			return nil, err
		}
		hasher = h
	}

	jar, err := newCookieJar(cfg.Cookie)
	if err != nil {
		return nil, err
	}

	messages := b.messages
	if messages == nil {
		messages = DefaultMessages
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(log)
	}

	e := &Engine{
		cfg:       cfg,
		users:     users,
		tokens:    tokens,
		twoFactor: tf,
		linker:    linker,
		hasher:    hasher,
		mailer:    b.mailer,
		messages:  messages,
		cookies:   jar,
		audit:     newDispatcher(cfg.Audit, sink, b.metrics, now),
		metrics: b.metrics,
		log:     log,
		now:     now,
	}

	b.built = true
	return e, nil
}

func newDispatcher(cfg AuditConfig, sink AuditSink, m *metrics.Metrics, now func() time.Time) *audit.Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	return audit.NewDispatcher(sink,
		audit.WithBuffer(cfg.BufferSize),
		audit.WithDropIfFull(cfg.DropIfFull),
		audit.WithClock(now),
		audit.OnDrop(func(ev audit.Event) { m.AuditDropped(string(ev.Type)) }),
	)
}

// MustBuild is Build for program setup; it panics on error.
func (b *Builder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("goAccount: %v", err))
	}
	return e
}
