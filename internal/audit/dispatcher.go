package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBuffer sets how many events may wait for the sink. Values below 1 are
// ignored.
func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// WithDropIfFull makes Emit discard an event instead of waiting when the
// buffer is full.
func WithDropIfFull(drop bool) Option {
	return func(d *Dispatcher) { d.dropIfFull = drop }
}

// WithClock sets the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// OnDrop registers fn to be called with every discarded event.
func OnDrop(fn func(Event)) Option {
	return func(d *Dispatcher) { d.onDrop = fn }
}

type queued struct {
	ctx   context.Context
	event Event
}

// Dispatcher stamps account events and hands them to a sink from a single
// goroutine. A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	sink       Sink
	buffer     int
	dropIfFull bool
	now        func() time.Time
	onDrop     func(Event)

	queue   chan queued
	stop    chan struct{}
	stopped chan struct{}
	dropped atomic.Uint64
	closing atomic.Bool
	once    sync.Once
}

// NewDispatcher starts a dispatcher delivering to sink. A nil sink discards
// events, which still exercises stamping and drop accounting.
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{sink: sink, buffer: 1, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan queued, d.buffer)
	d.stop = make(chan struct{})
	d.stopped = make(chan struct{})

	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer close(d.stopped)

	for {
		select {
		case q := <-d.queue:
			d.sink.Emit(q.ctx, q.event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case q := <-d.queue:
			d.sink.Emit(q.ctx, q.event)
		default:
			return
		}
	}
}

// Emit stamps event with the dispatcher clock and queues it. The sink sees
// the values of ctx but not its cancellation. An event that cannot be queued
// before ctx ends, or at once under WithDropIfFull, is dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closing.Load() {
		return
	}
	event.Timestamp = d.now()
	q := queued{ctx: context.WithoutCancel(ctx), event: event}

	if d.dropIfFull {
		select {
		case d.queue <- q:
		case <-d.stop:
		default:
			d.drop(event)
		}
		return
	}

	select {
	case d.queue <- q:
	case <-ctx.Done():
		d.drop(event)
	case <-d.stop:
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop(event)
	}
}

// Close delivers what is already queued and stops the worker. Later Emits
// are ignored. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		<-d.stopped
	})
}

// Dropped reports how many events were discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
