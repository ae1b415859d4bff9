package goAccount

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/goAccount/apperr"
	"github.com/MrEthical07/goAccount/identity"
	"github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/internal/logging"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/metrics"
	"github.com/MrEthical07/goAccount/password"
	"github.com/MrEthical07/goAccount/token"
	"github.com/MrEthical07/goAccount/twofactor"
	"github.com/MrEthical07/goAccount/user"
	"github.com/samber/oops"
	"go.uber.org/zap"
)

// Engine is the authentication core. It is safe for concurrent use once
// built.
//
// Every error it returns is an *Error. Failures that carry no reason key are
// logged and replaced by ErrInternal.
type Engine struct {
	cfg       Config
	users     user.Directory
	tokens    *token.Store
	twoFactor *twofactor.Manager
	linker    *identity.Linker
	hasher    password.Hasher
	mailer    mail.Sender
	messages  MessageCatalog
	cookies   cookieJar
	audit     *audit.Dispatcher
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time

	sweepMu   sync.Mutex
	stopSweep func()
	closeOnce sync.Once
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.cfg)
}

// User returns the account with id userID.
func (e *Engine) User(ctx context.Context, userID string) (*user.User, error) {
	u, err := e.findUser(ctx, userID)
	if err != nil {
		return nil, e.fail("user", err)
	}
	return u, nil
}

// SweepTokens removes every persisted token that no longer validates and
// returns how many were removed.
func (e *Engine) SweepTokens(ctx context.Context) (int, error) {
	n, err := e.tokens.Sweep(ctx)
	if err != nil {
		return n, e.fail("sweep tokens", err)
	}
	return n, nil
}

// StartSweeper runs SweepTokens every Config.Sweep.Interval in the
// background until stop is called or Close runs. Calling it again while a
// sweeper is running returns the existing stop func.
func (e *Engine) StartSweeper(ctx context.Context) (stop func()) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	if e.stopSweep == nil {
		s := token.NewSweeper(e.tokens, e.cfg.Sweep.Interval, e.log.Named("sweeper"))
		var once sync.Once
		halt := s.Start(ctx)
		e.stopSweep = func() { once.Do(halt) }
	}
	return e.stopSweep
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close stops the background sweeper and flushes pending audit events. It is
// safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.sweepMu.Lock()
		stop := e.stopSweep
		e.sweepMu.Unlock()
		if stop != nil {
			stop()
		}
		e.audit.Close()
	})
}

// fail turns err into the value returned to callers. Errors already carrying
// a kind pass through; anything else is logged with its oops context,
// counted, and replaced by ErrInternal.
func (e *Engine) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := apperr.As(err); ok {
		return ae
	}
	if errors.Is(err, context.Canceled) {
		e.log.Debug("request canceled", logging.Op(op))
	} else {
		e.log.Error("internal error", append([]zap.Field{logging.Op(op)}, logging.Err(err)...)...)
	}
	e.metrics.InternalError(op)
	return apperr.ErrInternal
}

func (e *Engine) findUser(ctx context.Context, id string) (*user.User, error) {
	if id == "" {
		return nil, apperr.ErrUserNotFound
	}
	u, err := e.users.FindByID(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, directoryErr(err, "find by id")
	}
	return u, nil
}

func (e *Engine) findUserByEmail(ctx context.Context, email string) (*user.User, error) {
	if email == "" {
		return nil, apperr.ErrUserNotFound
	}
	u, err := e.users.FindByEmail(ctx, email)
	if errors.Is(err, user.ErrNotFound) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, directoryErr(err, "find by email")
	}
	return u, nil
}

// updateUser applies fn to the stored record of id as one atomic step.
// Errors from fn and user.ErrDuplicate are returned unchanged.
func (e *Engine) updateUser(ctx context.Context, id, op string, fn func(*user.User) error) (*user.User, error) {
	if id == "" {
		return nil, apperr.ErrUserNotFound
	}
	u, err := e.users.Update(ctx, id, fn)
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, user.ErrNotFound):
		return nil, apperr.ErrUserNotFound
	case errors.Is(err, user.ErrDuplicate):
		return nil, err
	}
	if _, ok := apperr.As(err); ok {
		return nil, err
	}
	return nil, directoryErr(err, op)
}

func directoryErr(err error, op string) error {
	return oops.Code("USER_DIRECTORY_UNAVAILABLE").With("operation", op).Wrap(err)
}

func (e *Engine) emit(ctx context.Context, ev audit.Event) {
	e.audit.Emit(ctx, ev)
}

// sendMail hands msg to the mailer. A failure is logged and counted but never
// rolls back the state change that triggered the mail.
func (e *Engine) sendMail(ctx context.Context, op string, msg mail.Message) error {
	msg.From = e.cfg.Mail.From
	if err := e.mailer.Send(ctx, msg); err != nil {
		e.log.Warn("mail dispatch failed", append([]zap.Field{logging.Op(op)}, logging.Err(err)...)...)
		e.metrics.MailFailure()
		return apperr.Transient(err)
	}
	return nil
}
