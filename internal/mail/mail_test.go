package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/store"
)

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func TestRecorder(t *testing.T) {
	var r Recorder
	params := ir.Object{"title": ir.String("a")}
	ok, err := r.SendMessage(context.Background(), Message{To: "x@example.com", Template: "t", Params: params})
	require.NoError(t, err)
	assert.True(t, ok)

	params["title"] = ir.String("changed")
	msgs := r.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ir.String("a"), msgs[0].Params["title"])

	r.Reset()
	assert.Empty(t, r.Messages())
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := LogSender{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	ok, err := s.SendMessage(context.Background(), Message{To: "x@example.com", Template: "welcome"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, buf.String(), "to=x@example.com")
	assert.Contains(t, buf.String(), "template=welcome")
}

func TestOutboxSenderAndFlush(t *testing.T) {
	ctx := context.Background()
	ob := store.NewMemory()
	sender := OutboxSender{Outbox: ob, Now: fixedNow}

	for _, to := range []string{"a@example.com", "b@example.com"} {
		ok, err := sender.SendMessage(ctx, Message{To: to, Template: "t"})
		require.NoError(t, err)
		assert.True(t, ok)
	}

	var rec Recorder
	res, err := Flush(ctx, ob, &rec, 0, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Sent: 2}, res)
	require.Len(t, rec.Messages(), 2)
	assert.Equal(t, "a@example.com", rec.Messages()[0].To)

	pending, err := ob.PendingEmails(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

type rejecting struct{}

func (rejecting) SendMessage(context.Context, Message) (bool, error) { return false, nil }

type failing struct{}

func (failing) SendMessage(context.Context, Message) (bool, error) {
	return false, errors.New("smtp unavailable")
}

func TestFlush_RejectedStayPending(t *testing.T) {
	ctx := context.Background()
	ob := store.NewMemory()
	_, err := OutboxSender{Outbox: ob, Now: fixedNow}.SendMessage(ctx, Message{To: "a@example.com", Template: "t"})
	require.NoError(t, err)

	res, err := Flush(ctx, ob, rejecting{}, 0, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Rejected: 1}, res)

	_, err = Flush(ctx, ob, failing{}, 0, fixedNow)
	assert.ErrorContains(t, err, "smtp unavailable")

	pending, err := ob.PendingEmails(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRateLimited_RespectsContext(t *testing.T) {
	var rec Recorder
	s := NewRateLimited(&rec, 0.001, 1)

	ok, err := s.SendMessage(context.Background(), Message{To: "first@example.com"})
	require.NoError(t, err)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ok, err = s.SendMessage(ctx, Message{To: "second@example.com"})
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Len(t, rec.Messages(), 1)
}
