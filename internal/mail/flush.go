package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/flowgate/internal/store"
)

// FlushResult counts the outcome of a Flush.
type FlushResult struct {
	Sent     int `json:"sent"`
	Rejected int `json:"rejected"`
}

// Flush delivers up to limit pending outbox messages through sender and
// marks the accepted ones as sent. Rejected messages stay pending. The
// first delivery error stops the flush.
func Flush(ctx context.Context, ob store.Outbox, sender Sender, limit int, now func() time.Time) (FlushResult, error) {
	var res FlushResult
	pending, err := ob.PendingEmails(ctx, limit)
	if err != nil {
		return res, err
	}
	for _, p := range pending {
		ok, err := sender.SendMessage(ctx, Message{To: p.To, Template: p.Template, Params: p.Params})
		if err != nil {
			return res, fmt.Errorf("outbox message %d: %w", p.Seq, err)
		}
		if !ok {
			res.Rejected++
			continue
		}
		if err := ob.MarkEmailSent(ctx, p.Seq, now().UTC()); err != nil {
			return res, err
		}
		res.Sent++
	}
	return res, nil
}
