package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/flowgate/internal/ir"
)

// marshalData converts resource data to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalData(data ir.Object) (string, error) {
	if data == nil {
		data = ir.Object{}
	}
	b, err := ir.MarshalCanonical(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(b), nil
}

// unmarshalData parses canonical JSON TEXT to an Object.
func unmarshalData(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	obj, err := ir.ParseObjectJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return obj, nil
}

// marshalJSON encodes v with HTML escaping disabled, so stored text
// matches canonical output for the same strings.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline
	return strings.TrimSpace(buf.String()), nil
}

func marshalChanges(changes []ir.PropertyChange) (string, error) {
	if changes == nil {
		changes = []ir.PropertyChange{}
	}
	s, err := marshalJSON(changes)
	if err != nil {
		return "", fmt.Errorf("marshal changes: %w", err)
	}
	return s, nil
}

func unmarshalChanges(data string) ([]ir.PropertyChange, error) {
	var changes []ir.PropertyChange
	if err := json.Unmarshal([]byte(data), &changes); err != nil {
		return nil, fmt.Errorf("unmarshal changes: %w", err)
	}
	if changes == nil {
		changes = []ir.PropertyChange{}
	}
	return changes, nil
}

// marshalEvent and unmarshalEvent serialize whole history events for the
// Redis store.
func marshalEvent(ev ir.HistoryEvent) (string, error) {
	s, err := marshalJSON(ev)
	if err != nil {
		return "", fmt.Errorf("marshal history event: %w", err)
	}
	return s, nil
}

func unmarshalEvent(data string) (ir.HistoryEvent, error) {
	var ev ir.HistoryEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ir.HistoryEvent{}, fmt.Errorf("unmarshal history event: %w", err)
	}
	if ev.Changes == nil {
		ev.Changes = []ir.PropertyChange{}
	}
	return ev, nil
}
