// Package mail delivers the emails produced by sendEmail effects.
package mail

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/store"
)

// Message is one templated email.
type Message struct {
	To       string    `json:"to"`
	Template string    `json:"template"`
	Params   ir.Object `json:"params"`
}

// Sender delivers messages. It reports false, or an error, when the
// message was not accepted.
type Sender interface {
	SendMessage(ctx context.Context, msg Message) (bool, error)
}

// Recorder keeps every message in memory and accepts all of them.
//
// Thread-safety: Recorder is safe for concurrent use via internal mutex.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) SendMessage(_ context.Context, msg Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.Params = msg.Params.Clone()
	r.messages = append(r.messages, msg)
	return true, nil
}

// Messages returns the recorded messages in send order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// Reset forgets every recorded message.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

// LogSender writes each message to a structured logger instead of
// delivering it.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) SendMessage(ctx context.Context, msg Message) (bool, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email",
		"to", msg.To,
		"template", msg.Template,
		"params", msg.Params,
	)
	return true, nil
}

// OutboxSender queues messages in a store.Outbox for a later Flush.
type OutboxSender struct {
	Outbox store.Outbox
	Now    func() time.Time
}

func (s OutboxSender) SendMessage(ctx context.Context, msg Message) (bool, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	_, err := s.Outbox.EnqueueEmail(ctx, store.OutboxMessage{
		To:        msg.To,
		Template:  msg.Template,
		Params:    msg.Params,
		CreatedAt: now().UTC(),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// RateLimited delays each message until limiter allows it.
type RateLimited struct {
	Next    Sender
	Limiter *rate.Limiter
}

// NewRateLimited allows perSecond messages per second with the given burst.
func NewRateLimited(next Sender, perSecond float64, burst int) *RateLimited {
	return &RateLimited{Next: next, Limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (s *RateLimited) SendMessage(ctx context.Context, msg Message) (bool, error) {
	if err := s.Limiter.Wait(ctx); err != nil {
		return false, err
	}
	return s.Next.SendMessage(ctx, msg)
}
