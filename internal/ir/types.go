package ir

import (
	"encoding/json"
	"fmt"
	"time"
)

// WildcardRole matches every user in a permission rule.
const WildcardRole = "*"

// User is the acting principal for an engine operation.
type User struct {
	UID      string   `json:"uid" yaml:"uid"`
	Email    string   `json:"email,omitempty" yaml:"email,omitempty"`
	FullName string   `json:"fullName,omitempty" yaml:"fullName,omitempty"`
	Roles    []string `json:"roles" yaml:"roles"`
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ResourceRef identifies a resource instance by its composite key.
type ResourceRef struct {
	UID  string `json:"uid"`
	Type string `json:"type"`
}

// String returns the "type#uid" form used in logs and cache keys.
func (r ResourceRef) String() string {
	return r.Type + "#" + r.UID
}

// Record is a stored resource: its key plus its raw data, including state.
// Revision starts at 1 and increases with every write.
type Record struct {
	ResourceRef
	Data     Object `json:"data"`
	Revision int64  `json:"revision"`
}

// EffectKind tags an EffectResult.
type EffectKind string

const (
	EffectEmail  EffectKind = "email"
	EffectUpdate EffectKind = "update"
)

// EffectResult is an evaluated effect, ready to be executed.
// Email effects populate To, Template and Params; update effects populate
// On and Properties.
type EffectResult struct {
	Kind             EffectKind  `json:"type"`
	To               string      `json:"to,omitempty"`
	Template         string      `json:"template,omitempty"`
	Params           Object      `json:"params,omitempty"`
	On               ResourceRef `json:"on,omitzero"`
	Properties       Object      `json:"properties,omitempty"`
	IncludeInHistory bool        `json:"includeInHistory"`
}

// PropertyChange records one property written by an action.
type PropertyChange struct {
	Property string `json:"property"`
	Value    Value  `json:"value"`
	Previous Value  `json:"previous,omitempty"`
}

// UnmarshalJSON decodes the interface-typed value fields.
func (c *PropertyChange) UnmarshalJSON(data []byte) error {
	var raw struct {
		Property string          `json:"property"`
		Value    json.RawMessage `json:"value"`
		Previous json.RawMessage `json:"previous"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Property = raw.Property
	c.Value = Null{}
	c.Previous = nil
	if len(raw.Value) > 0 {
		v, err := ParseJSON(raw.Value)
		if err != nil {
			return fmt.Errorf("change %q value: %w", raw.Property, err)
		}
		c.Value = v
	}
	if len(raw.Previous) > 0 {
		v, err := ParseJSON(raw.Previous)
		if err != nil {
			return fmt.Errorf("change %q previous: %w", raw.Property, err)
		}
		c.Previous = v
	}
	return nil
}

// HistoryEvent is an immutable record appended once per target resource for
// an action whose updates request history logging.
type HistoryEvent struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Resource  ResourceRef      `json:"resource"`
	Parent    ResourceRef      `json:"parent"`
	Action    string           `json:"action"`
	User      string           `json:"user,omitempty"`
	Changes   []PropertyChange `json:"changes"`
	// Revision is the target record's revision after the action's writes.
	Revision int64 `json:"revision,omitempty"`
}
