package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/flowgate/internal/ir"
)

// OutboxMessage is a queued email.
type OutboxMessage struct {
	Seq       int64      `json:"seq"`
	To        string     `json:"to"`
	Template  string     `json:"template"`
	Params    ir.Object  `json:"params"`
	CreatedAt time.Time  `json:"createdAt"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
}

// Outbox queues emails for later delivery.
type Outbox interface {
	EnqueueEmail(ctx context.Context, msg OutboxMessage) (int64, error)
	PendingEmails(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkEmailSent(ctx context.Context, seq int64, at time.Time) error
}

// EnqueueEmail appends msg to the outbox and returns its sequence number.
func (s *Store) EnqueueEmail(ctx context.Context, msg OutboxMessage) (int64, error) {
	paramsJSON, err := marshalData(msg.Params)
	if err != nil {
		return 0, fmt.Errorf("enqueue email: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO email_outbox (recipient, template, params, created_at)
		VALUES (?, ?, ?, ?)
	`, msg.To, msg.Template, paramsJSON, msg.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("enqueue email: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue email: last insert id: %w", err)
	}
	return seq, nil
}

// PendingEmails returns up to limit unsent messages, oldest first. A limit
// of zero or less returns all of them.
func (s *Store) PendingEmails(ctx context.Context, limit int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, recipient, template, params, created_at
		FROM email_outbox
		WHERE sent_at IS NULL
		ORDER BY seq ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending emails: %w", err)
	}
	defer rows.Close()

	msgs := []OutboxMessage{}
	for rows.Next() {
		var msg OutboxMessage
		var paramsJSON, created string
		if err := rows.Scan(&msg.Seq, &msg.To, &msg.Template, &paramsJSON, &created); err != nil {
			return nil, fmt.Errorf("pending emails: scan: %w", err)
		}
		if msg.Params, err = unmarshalData(paramsJSON); err != nil {
			return nil, fmt.Errorf("pending emails: %w", err)
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("pending emails: created_at: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending emails: %w", err)
	}
	return msgs, nil
}

// MarkEmailSent records delivery of the message with the given sequence
// number. Marking an already sent message keeps the first timestamp.
func (s *Store) MarkEmailSent(ctx context.Context, seq int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE email_outbox SET sent_at = COALESCE(sent_at, ?) WHERE seq = ?
	`, at.UTC().Format(time.RFC3339Nano), seq)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark email sent: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark email sent: no outbox message %d: %w", seq, sql.ErrNoRows)
	}
	return nil
}
