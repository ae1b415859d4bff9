// Package mail defines the outbound email contract and its adapters: an SMTP
// sender, an asynchronous retrying queue and an in-memory recorder.
package mail

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned by AsyncSender.Send when no queue slot is free.
	ErrQueueFull = errors.New("mail queue full")
	// ErrClosed is returned after AsyncSender.Close.
	ErrClosed = errors.New("mail sender closed")
)

// Message is a plain text email. An empty From uses the sender's default.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// RecordingSender keeps every message in memory. Err, when set, is returned
// instead of recording.
type RecordingSender struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (r *RecordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the recorded messages.
func (r *RecordingSender) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// Last returns the most recent message sent to addr.
func (r *RecordingSender) Last(addr string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].To == addr {
			return r.sent[i], true
		}
	}
	return Message{}, false
}
