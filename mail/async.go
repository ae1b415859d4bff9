package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/goAccount/internal/logging"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// AsyncConfig tunes AsyncSender.
type AsyncConfig struct {
	QueueSize   int           `yaml:"queue_size"`
	Workers     int           `yaml:"workers"`
	MaxRetries  uint64        `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	// SendTimeout bounds each delivery attempt.
	SendTimeout time.Duration `yaml:"send_timeout"`
}

func (c AsyncConfig) withDefaults() AsyncConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}

// AsyncSender queues messages and delivers them from a fixed worker pool,
// retrying failures with exponential backoff. Send returns once the message is
// queued; delivery failures are reported through the logger and OnFailure.
type AsyncSender struct {
	next Sender
	cfg  AsyncConfig
	log  *zap.Logger

	onFailure func(Message, error)

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// AsyncOption customizes an AsyncSender.
type AsyncOption func(*AsyncSender)

// WithAsyncLogger sets the logger for delivery failures.
func WithAsyncLogger(l *zap.Logger) AsyncOption {
	return func(s *AsyncSender) { s.log = logging.OrNop(l) }
}

// OnFailure registers fn to run after a message exhausts its retries.
func OnFailure(fn func(Message, error)) AsyncOption {
	return func(s *AsyncSender) { s.onFailure = fn }
}

// NewAsyncSender starts cfg.Workers workers delivering through next.
func NewAsyncSender(next Sender, cfg AsyncConfig, opts ...AsyncOption) (*AsyncSender, error) {
	if next == nil {
		return nil, errors.New("async sender requires a delegate sender")
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &AsyncSender{
		next:   next,
		cfg:    cfg,
		log:    zap.NewNop(),
		queue:  make(chan Message, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.run()
	}
	return s, nil
}

// Send enqueues msg without blocking.
func (s *AsyncSender) Send(_ context.Context, msg Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages, delivers what is queued and waits for the
// workers. Retries still pending when ctx ends are abandoned.
func (s *AsyncSender) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *AsyncSender) run() {
	defer s.wg.Done()
	for msg := range s.queue {
		s.deliver(msg)
	}
}

func (s *AsyncSender) deliver(msg Message) {
	backoff := retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewExponential(s.cfg.BaseBackoff))
	attempts := 0
	err := retry.Do(s.ctx, backoff, func(ctx context.Context) error {
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		defer cancel()
		if err := s.next.Send(sendCtx, msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return
	}

	s.log.Warn("mail delivery failed",
		append([]zap.Field{zap.String("subject", msg.Subject), zap.Int("attempts", attempts)}, logging.Err(err)...)...)
	if s.onFailure != nil {
		s.onFailure(msg, err)
	}
}
