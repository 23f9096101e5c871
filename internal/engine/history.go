package engine

import (
	"fmt"
	"time"

	"github.com/roach88/flowgate/internal/ir"
)

// historyBuilder merges the history-flagged updates of one action into one
// event per target resource. Targets keep the order they were first
// updated in; a property written twice keeps its first previous value and
// its last value.
type historyBuilder struct {
	parent    ir.ResourceRef
	action    string
	user      string
	timestamp time.Time

	order     []ir.ResourceRef
	changes   map[ir.ResourceRef][]ir.PropertyChange
	index     map[ir.ResourceRef]map[string]int
	revisions map[ir.ResourceRef]int64
}

func newHistoryBuilder(parent ir.ResourceRef, action, user string, timestamp time.Time) *historyBuilder {
	return &historyBuilder{
		parent:    parent,
		action:    action,
		user:      user,
		timestamp: timestamp,
		changes:   make(map[ir.ResourceRef][]ir.PropertyChange),
		index:     make(map[ir.ResourceRef]map[string]int),
		revisions: make(map[ir.ResourceRef]int64),
	}
}

// add records one update of target that left it at revision.
func (h *historyBuilder) add(target ir.ResourceRef, revision int64, props, previous ir.Object) {
	h.revisions[target] = revision
	idx, ok := h.index[target]
	if !ok {
		idx = make(map[string]int)
		h.index[target] = idx
		h.order = append(h.order, target)
	}
	for _, name := range props.SortedKeys() {
		if i, seen := idx[name]; seen {
			h.changes[target][i].Value = props[name]
			continue
		}
		c := ir.PropertyChange{Property: name, Value: props[name]}
		if previous.Has(name) {
			c.Previous = previous[name]
		}
		idx[name] = len(h.changes[target])
		h.changes[target] = append(h.changes[target], c)
	}
}

// events returns the merged events with their content IDs set.
func (h *historyBuilder) events() ([]ir.HistoryEvent, error) {
	out := make([]ir.HistoryEvent, 0, len(h.order))
	for _, target := range h.order {
		ev := ir.HistoryEvent{
			Timestamp: h.timestamp,
			Resource:  target,
			Parent:    h.parent,
			Action:    h.action,
			User:      h.user,
			Changes:   h.changes[target],
			Revision:  h.revisions[target],
		}
		id, err := ir.HistoryEventID(ev)
		if err != nil {
			return nil, fmt.Errorf("history event for %s: %w", target, err)
		}
		ev.ID = id
		out = append(out, ev)
	}
	return out, nil
}
