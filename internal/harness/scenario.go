package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted run against a definition.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Definition is the definition file to load. A relative path is
	// resolved against the scenario file's directory.
	Definition string `yaml:"definition"`

	// Users maps the names steps refer to onto users. The name is the uid.
	Users map[string]UserSpec `yaml:"users"`

	// Resources are created, in order, before the first step.
	Resources []ResourceSpec `yaml:"resources,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions run after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// UserSpec describes a scenario user.
type UserSpec struct {
	Email string   `yaml:"email,omitempty"`
	Name  string   `yaml:"name,omitempty"`
	Roles []string `yaml:"roles"`
}

// ResourceSpec describes a resource created during setup. Its uid is its
// alias.
type ResourceSpec struct {
	Alias string         `yaml:"alias"`
	Type  string         `yaml:"type"`
	As    string         `yaml:"as,omitempty"`
	Data  map[string]any `yaml:"data,omitempty"`
}

// Step runs exactly one operation as one user.
type Step struct {
	As string `yaml:"as"`

	Perform  *PerformStep `yaml:"perform,omitempty"`
	Update   *UpdateStep  `yaml:"update,omitempty"`
	Get      string       `yaml:"get,omitempty"`
	Describe string       `yaml:"describe,omitempty"`
	History  string       `yaml:"history,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// PerformStep performs an action on a resource alias.
type PerformStep struct {
	Resource string         `yaml:"resource"`
	Action   string         `yaml:"action"`
	Input    map[string]any `yaml:"input,omitempty"`
}

// UpdateStep writes properties of a resource alias directly.
type UpdateStep struct {
	Resource string         `yaml:"resource"`
	Data     map[string]any `yaml:"data"`
}

// Expect states what a step should produce. Unset fields are not checked.
type Expect struct {
	Success *bool    `yaml:"success,omitempty"`
	Errors  []string `yaml:"errors,omitempty"`

	// State is the resource's state after the step.
	State string `yaml:"state,omitempty"`

	// Visible is a subset of the fields a get step returns; Hidden lists
	// fields it must not show.
	Visible map[string]any `yaml:"visible,omitempty"`
	Hidden  []string       `yaml:"hidden,omitempty"`

	// Allowed and Denied name actions a describe step reports.
	Allowed []string `yaml:"allowed,omitempty"`
	Denied  []string `yaml:"denied,omitempty"`

	// Events is the number of history events a history step returns.
	Events *int `yaml:"events,omitempty"`
}

// Assertion checks the outcome of the whole run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Resource is the alias checked by final_state and history_count.
	Resource string `yaml:"resource,omitempty"`

	// State and Data are checked by final_state. Data is a subset match
	// against the stored properties.
	State string         `yaml:"state,omitempty"`
	Data  map[string]any `yaml:"data,omitempty"`

	// Count is used by email_sent and history_count.
	Count int `yaml:"count,omitempty"`

	// To and Template narrow email_sent.
	To       string `yaml:"to,omitempty"`
	Template string `yaml:"template,omitempty"`

	// Actions is the order trace_order expects successful actions in.
	// Other actions may come in between.
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion types.
const (
	AssertFinalState   = "final_state"
	AssertEmailSent    = "email_sent"
	AssertHistoryCount = "history_count"
	AssertTraceOrder   = "trace_order"
)

// Step operations, as recorded in the trace.
const (
	OpCreate   = "create"
	OpPerform  = "perform"
	OpUpdate   = "update"
	OpGet      = "get"
	OpDescribe = "describe"
	OpHistory  = "history"
)

// Op reports which operation the step runs.
func (s Step) Op() string {
	switch {
	case s.Perform != nil:
		return OpPerform
	case s.Update != nil:
		return OpUpdate
	case s.Get != "":
		return OpGet
	case s.Describe != "":
		return OpDescribe
	case s.History != "":
		return OpHistory
	}
	return ""
}

// Resource returns the alias the step operates on.
func (s Step) Resource() string {
	switch {
	case s.Perform != nil:
		return s.Perform.Resource
	case s.Update != nil:
		return s.Update.Resource
	case s.Get != "":
		return s.Get
	case s.Describe != "":
		return s.Describe
	}
	return s.History
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected, and a relative definition path is resolved against the
// scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Definition != "" && !filepath.IsAbs(s.Definition) {
		s.Definition = filepath.Join(filepath.Dir(path), s.Definition)
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML. The definition path
// is left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks the references inside a scenario. Every problem
// is reported.
func validateScenario(s *Scenario) error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.Definition == "" {
		errs = append(errs, errors.New("definition is required"))
	}
	if len(s.Steps) == 0 {
		errs = append(errs, errors.New("steps list is required and must be non-empty"))
	}
	for name, u := range s.Users {
		if len(u.Roles) == 0 {
			errs = append(errs, fmt.Errorf("user %q: at least one role is required", name))
		}
	}

	aliases := map[string]bool{}
	for i, r := range s.Resources {
		switch {
		case r.Alias == "":
			errs = append(errs, fmt.Errorf("resources[%d]: alias is required", i))
		case aliases[r.Alias]:
			errs = append(errs, fmt.Errorf("resources[%d]: duplicate alias %q", i, r.Alias))
		}
		aliases[r.Alias] = true
		if r.Type == "" {
			errs = append(errs, fmt.Errorf("resources[%d]: type is required", i))
		}
		if r.As != "" {
			if _, ok := s.Users[r.As]; !ok {
				errs = append(errs, fmt.Errorf("resources[%d]: unknown user %q", i, r.As))
			}
		}
	}

	for i, st := range s.Steps {
		ops := 0
		for _, set := range []bool{st.Perform != nil, st.Update != nil, st.Get != "", st.Describe != "", st.History != ""} {
			if set {
				ops++
			}
		}
		if ops != 1 {
			errs = append(errs, fmt.Errorf("steps[%d]: exactly one of perform, update, get, describe or history is required", i))
			continue
		}
		if _, ok := s.Users[st.As]; !ok {
			errs = append(errs, fmt.Errorf("steps[%d]: unknown user %q", i, st.As))
		}
		if !aliases[st.Resource()] {
			errs = append(errs, fmt.Errorf("steps[%d]: unknown resource %q", i, st.Resource()))
		}
		if st.Perform != nil && st.Perform.Action == "" {
			errs = append(errs, fmt.Errorf("steps[%d]: perform.action is required", i))
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertFinalState, AssertHistoryCount:
			if !aliases[a.Resource] {
				errs = append(errs, fmt.Errorf("assertions[%d]: unknown resource %q", i, a.Resource))
			}
		case AssertEmailSent:
		case AssertTraceOrder:
			if len(a.Actions) == 0 {
				errs = append(errs, fmt.Errorf("assertions[%d]: actions is required", i))
			}
		default:
			errs = append(errs, fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type))
		}
	}
	return errors.Join(errs...)
}

// aliases lists the resource aliases in creation order.
func (s *Scenario) aliases() []string {
	out := make([]string, 0, len(s.Resources))
	for _, r := range s.Resources {
		out = append(out, r.Alias)
	}
	return out
}

