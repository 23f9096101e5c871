package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for content-addressed identity. The version suffix leaves
// room for an algorithm change.
const (
	DomainHistoryEvent = "flowgate/history/v1"
	DomainDefinition   = "flowgate/definition/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HistoryEventID computes the content-addressed ID for a history event.
// The target's revision is part of the content, so two actions that write
// the same changes at the same instant still get distinct IDs while a
// replayed write of one event is a no-op for the stores.
func HistoryEventID(ev HistoryEvent) (string, error) {
	changes := make(Array, len(ev.Changes))
	for i, c := range ev.Changes {
		entry := Object{
			"property": String(c.Property),
			"value":    valueOrNull(c.Value),
		}
		if c.Previous != nil {
			entry["previous"] = c.Previous
		}
		changes[i] = entry
	}

	obj := Object{
		"resource":  String(ev.Resource.String()),
		"parent":    String(ev.Parent.String()),
		"action":    String(ev.Action),
		"user":      String(ev.User),
		"timestamp": String(ev.Timestamp.UTC().Format(time.RFC3339Nano)),
		"changes":   changes,
		"revision":  Number(ev.Revision),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("HistoryEventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainHistoryEvent, canonical), nil
}

// DefinitionHash fingerprints a system definition's canonical form. The CLI
// reports it so operators can tell which definition a store was driven by.
func DefinitionHash(raw Value) (string, error) {
	canonical, err := MarshalCanonical(raw)
	if err != nil {
		return "", fmt.Errorf("DefinitionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}

func valueOrNull(v Value) Value {
	if v == nil {
		return Null{}
	}
	return v
}
