package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/flowgate/internal/ir"
)

// Memory is an in-process DataStore and Outbox. A single mutex serializes
// every operation, which makes CompareAndUpdate atomic.
type Memory struct {
	mu        sync.Mutex
	opts      options
	seq       int64
	resources map[ir.ResourceRef]memoryEntry
	history   map[ir.ResourceRef][]ir.HistoryEvent
	eventIDs  map[string]bool
	outbox    []OutboxMessage
}

type memoryEntry struct {
	seq      int64
	revision int64
	data     ir.Object
}

func (e memoryEntry) record(ref ir.ResourceRef) ir.Record {
	return ir.Record{ResourceRef: ref, Data: e.data.Clone(), Revision: e.revision}
}

var (
	_ DataStore = (*Memory)(nil)
	_ Outbox    = (*Memory)(nil)
)

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		opts:      buildOptions(opts),
		resources: make(map[ir.ResourceRef]memoryEntry),
		history:   make(map[ir.ResourceRef][]ir.HistoryEvent),
		eventIDs:  make(map[string]bool),
	}
}

func (m *Memory) Create(_ context.Context, typ string, data ir.Object) (ir.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := ir.ResourceRef{UID: m.opts.ids.Generate(), Type: typ}
	if _, exists := m.resources[ref]; exists {
		return ir.Record{}, fmt.Errorf("create %s: uid already in use", ref)
	}
	stored := data.Clone()
	if stored == nil {
		stored = ir.Object{}
	}
	m.seq++
	e := memoryEntry{seq: m.seq, revision: 1, data: stored}
	m.resources[ref] = e
	return e.record(ref), nil
}

func (m *Memory) Read(_ context.Context, ref ir.ResourceRef) (ir.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.resources[ref]
	if !ok {
		return ir.Record{}, fmt.Errorf("read %s: %w", ref, ErrNotFound)
	}
	return e.record(ref), nil
}

func (m *Memory) Update(_ context.Context, ref ir.ResourceRef, patch ir.Object) (ir.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(ref, nil, patch)
}

func (m *Memory) CompareAndUpdate(_ context.Context, ref ir.ResourceRef, expectedRevision int64, patch ir.Object) (ir.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(ref, &expectedRevision, patch)
}

// update must be called with m.mu held.
func (m *Memory) update(ref ir.ResourceRef, expectedRevision *int64, patch ir.Object) (ir.Record, error) {
	e, ok := m.resources[ref]
	if !ok {
		return ir.Record{}, fmt.Errorf("update %s: %w", ref, ErrNotFound)
	}
	if expectedRevision != nil && e.revision != *expectedRevision {
		return ir.Record{}, fmt.Errorf("update %s: expected revision %d, found %d: %w", ref, *expectedRevision, e.revision, ErrConflict)
	}
	e.data = e.data.Merge(patch)
	e.revision++
	m.resources[ref] = e
	return e.record(ref), nil
}

func (m *Memory) Delete(_ context.Context, ref ir.ResourceRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.resources[ref]; !ok {
		return fmt.Errorf("delete %s: %w", ref, ErrNotFound)
	}
	delete(m.resources, ref)
	return nil
}

func (m *Memory) List(_ context.Context, typ string) ([]ir.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type ordered struct {
		seq int64
		rec ir.Record
	}
	var found []ordered
	for ref, e := range m.resources {
		if ref.Type == typ {
			found = append(found, ordered{e.seq, e.record(ref)})
		}
	}
	slices.SortFunc(found, func(a, b ordered) int { return cmp.Compare(a.seq, b.seq) })

	records := make([]ir.Record, len(found))
	for i, f := range found {
		records[i] = f.rec
	}
	return records, nil
}

func (m *Memory) WriteHistory(_ context.Context, ev ir.HistoryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.eventIDs[ev.ID] {
		return nil
	}
	m.eventIDs[ev.ID] = true
	ev.Changes = slices.Clone(ev.Changes)
	m.history[ev.Resource] = append(m.history[ev.Resource], ev)
	return nil
}

func (m *Memory) GetHistory(_ context.Context, ref ir.ResourceRef) ([]ir.HistoryEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]ir.HistoryEvent, len(m.history[ref]))
	copy(events, m.history[ref])
	return events, nil
}

func (m *Memory) EnqueueEmail(_ context.Context, msg OutboxMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.Seq = int64(len(m.outbox) + 1)
	msg.Params = msg.Params.Clone()
	msg.SentAt = nil
	m.outbox = append(m.outbox, msg)
	return msg.Seq, nil
}

func (m *Memory) PendingEmails(_ context.Context, limit int) ([]OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := []OutboxMessage{}
	for _, msg := range m.outbox {
		if msg.SentAt != nil {
			continue
		}
		if limit > 0 && len(pending) == limit {
			break
		}
		pending = append(pending, msg)
	}
	return pending, nil
}

func (m *Memory) MarkEmailSent(_ context.Context, seq int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq < 1 || seq > int64(len(m.outbox)) {
		return fmt.Errorf("mark email sent: no outbox message %d", seq)
	}
	if m.outbox[seq-1].SentAt == nil {
		m.outbox[seq-1].SentAt = &at
	}
	return nil
}
