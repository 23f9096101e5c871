package store

import (
	"context"
	"errors"

	"github.com/roach88/flowgate/internal/ir"
)

var (
	// ErrNotFound is returned when no resource exists for a (type, uid) key.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is returned by CompareAndUpdate when the stored record
	// was written after the expected revision.
	ErrConflict = errors.New("resource changed concurrently")
)

// DataStore persists resources and their history. Every resource is keyed
// by (type, uid); its data includes the "state" property.
//
// Implementations must make CompareAndUpdate atomic with respect to every
// other write on the same key.
type DataStore interface {
	// Create stores data under a newly generated uid at revision 1.
	Create(ctx context.Context, typ string, data ir.Object) (ir.Record, error)

	// Read returns the stored record or ErrNotFound.
	Read(ctx context.Context, ref ir.ResourceRef) (ir.Record, error)

	// Update merges patch into the stored data and bumps the revision.
	Update(ctx context.Context, ref ir.ResourceRef, patch ir.Object) (ir.Record, error)

	// CompareAndUpdate is Update guarded by the revision: it merges patch
	// only if the stored revision equals expectedRevision, otherwise it
	// returns ErrConflict.
	CompareAndUpdate(ctx context.Context, ref ir.ResourceRef, expectedRevision int64, patch ir.Object) (ir.Record, error)

	// Delete removes the record or returns ErrNotFound.
	Delete(ctx context.Context, ref ir.ResourceRef) error

	// List returns every record of a type in creation order.
	List(ctx context.Context, typ string) ([]ir.Record, error)

	// WriteHistory appends an event. Writing an event whose ID is already
	// stored is a no-op.
	WriteHistory(ctx context.Context, ev ir.HistoryEvent) error

	// GetHistory returns the events of a resource in write order.
	GetHistory(ctx context.Context, ref ir.ResourceRef) ([]ir.HistoryEvent, error)
}

// StateProperty is the data key holding a resource's state.
const StateProperty = "state"

func stateOf(data ir.Object) string {
	if s, ok := data[StateProperty].(ir.String); ok {
		return string(s)
	}
	return ""
}

// Option configures a store implementation.
type Option func(*options)

type options struct {
	ids IDGenerator
}

// WithIDGenerator sets the uid generator used by Create. The default is
// UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

func buildOptions(opts []Option) options {
	o := options{ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
