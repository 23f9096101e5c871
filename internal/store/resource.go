package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/flowgate/internal/ir"
)

// Create inserts data under a newly generated uid.
func (s *Store) Create(ctx context.Context, typ string, data ir.Object) (ir.Record, error) {
	rec := ir.Record{
		ResourceRef: ir.ResourceRef{UID: s.opts.ids.Generate(), Type: typ},
		Data:        data.Clone(),
		Revision:    1,
	}
	if rec.Data == nil {
		rec.Data = ir.Object{}
	}

	dataJSON, err := marshalData(rec.Data)
	if err != nil {
		return ir.Record{}, fmt.Errorf("create %s: %w", typ, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources (type, uid, state, data, revision)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Type, rec.UID, stateOf(rec.Data), dataJSON, rec.Revision)
	if err != nil {
		return ir.Record{}, fmt.Errorf("create %s: %w", rec.ResourceRef, err)
	}
	return rec, nil
}

// Read returns the record stored under ref.
func (s *Store) Read(ctx context.Context, ref ir.ResourceRef) (ir.Record, error) {
	var (
		dataJSON string
		revision int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT data, revision FROM resources WHERE type = ? AND uid = ?
	`, ref.Type, ref.UID).Scan(&dataJSON, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, fmt.Errorf("read %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return ir.Record{}, fmt.Errorf("read %s: %w", ref, err)
	}

	data, err := unmarshalData(dataJSON)
	if err != nil {
		return ir.Record{}, fmt.Errorf("read %s: %w", ref, err)
	}
	return ir.Record{ResourceRef: ref, Data: data, Revision: revision}, nil
}

// Update merges patch into the stored data.
func (s *Store) Update(ctx context.Context, ref ir.ResourceRef, patch ir.Object) (ir.Record, error) {
	return s.update(ctx, ref, nil, patch)
}

// CompareAndUpdate merges patch only while the stored revision still equals
// expectedRevision. The read and the write share one transaction.
func (s *Store) CompareAndUpdate(ctx context.Context, ref ir.ResourceRef, expectedRevision int64, patch ir.Object) (ir.Record, error) {
	return s.update(ctx, ref, &expectedRevision, patch)
}

func (s *Store) update(ctx context.Context, ref ir.ResourceRef, expectedRevision *int64, patch ir.Object) (ir.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Record{}, fmt.Errorf("update %s: begin tx: %w", ref, err)
	}
	defer tx.Rollback() // No-op if committed

	var (
		dataJSON string
		revision int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT data, revision FROM resources WHERE type = ? AND uid = ?
	`, ref.Type, ref.UID).Scan(&dataJSON, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, fmt.Errorf("update %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return ir.Record{}, fmt.Errorf("update %s: select: %w", ref, err)
	}
	if expectedRevision != nil && revision != *expectedRevision {
		return ir.Record{}, fmt.Errorf("update %s: expected revision %d, found %d: %w", ref, *expectedRevision, revision, ErrConflict)
	}

	current, err := unmarshalData(dataJSON)
	if err != nil {
		return ir.Record{}, fmt.Errorf("update %s: %w", ref, err)
	}
	next := current.Merge(patch)
	nextJSON, err := marshalData(next)
	if err != nil {
		return ir.Record{}, fmt.Errorf("update %s: %w", ref, err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE resources SET state = ?, data = ?, revision = revision + 1
		WHERE type = ? AND uid = ? AND revision = ?
	`, stateOf(next), nextJSON, ref.Type, ref.UID, revision)
	if err != nil {
		return ir.Record{}, fmt.Errorf("update %s: %w", ref, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return ir.Record{}, fmt.Errorf("update %s: rows affected: %w", ref, err)
	}
	if n == 0 {
		return ir.Record{}, fmt.Errorf("update %s: %w", ref, ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return ir.Record{}, fmt.Errorf("update %s: commit: %w", ref, err)
	}
	return ir.Record{ResourceRef: ref, Data: next, Revision: revision + 1}, nil
}

// Delete removes the record stored under ref.
func (s *Store) Delete(ctx context.Context, ref ir.ResourceRef) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM resources WHERE type = ? AND uid = ?
	`, ref.Type, ref.UID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: rows affected: %w", ref, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", ref, ErrNotFound)
	}
	return nil
}

// List returns every record of typ ordered by insertion sequence.
func (s *Store) List(ctx context.Context, typ string) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, data, revision FROM resources
		WHERE type = ?
		ORDER BY seq ASC
	`, typ)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", typ, err)
	}
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		var (
			uid, dataJSON string
			revision      int64
		)
		if err := rows.Scan(&uid, &dataJSON, &revision); err != nil {
			return nil, fmt.Errorf("list %s: scan: %w", typ, err)
		}
		data, err := unmarshalData(dataJSON)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", typ, err)
		}
		records = append(records, ir.Record{ResourceRef: ir.ResourceRef{UID: uid, Type: typ}, Data: data, Revision: revision})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", typ, err)
	}
	return records, nil
}
