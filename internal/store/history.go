package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/flowgate/internal/ir"
)

// WriteHistory inserts a history event.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) WriteHistory(ctx context.Context, ev ir.HistoryEvent) error {
	changesJSON, err := marshalChanges(ev.Changes)
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history_events
		(id, resource_type, resource_uid, parent_type, parent_uid, action, user_uid, timestamp, changes, revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID,
		ev.Resource.Type,
		ev.Resource.UID,
		ev.Parent.Type,
		ev.Parent.UID,
		ev.Action,
		ev.User,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		changesJSON,
		ev.Revision,
	)
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// GetHistory returns the events recorded for ref.
// Ordered by seq ASC, id COLLATE BINARY ASC for deterministic results.
func (s *Store) GetHistory(ctx context.Context, ref ir.ResourceRef) ([]ir.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_type, parent_uid, action, user_uid, timestamp, changes, revision
		FROM history_events
		WHERE resource_type = ? AND resource_uid = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, ref.Type, ref.UID)
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", ref, err)
	}
	defer rows.Close()

	events := []ir.HistoryEvent{}
	for rows.Next() {
		ev := ir.HistoryEvent{Resource: ref}
		var ts, changesJSON string
		if err := rows.Scan(&ev.ID, &ev.Parent.Type, &ev.Parent.UID, &ev.Action, &ev.User, &ts, &changesJSON, &ev.Revision); err != nil {
			return nil, fmt.Errorf("get history %s: scan: %w", ref, err)
		}
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("get history %s: timestamp: %w", ref, err)
		}
		if ev.Changes, err = unmarshalChanges(changesJSON); err != nil {
			return nil, fmt.Errorf("get history %s: %w", ref, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get history %s: %w", ref, err)
	}
	return events, nil
}
