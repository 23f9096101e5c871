package condition

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/schema"
)

// Parse converts a decoded rule list into a ConditionDefinition. path
// prefixes error locations. A nil raw value is an empty list.
func Parse(raw any, path string) (schema.ConditionDefinition, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, &InvalidConditionError{Path: path, Rule: render(raw), Reason: "conditions must be a list"}
	}

	rules := make(schema.ConditionDefinition, 0, len(items))
	for i, item := range items {
		at := fmt.Sprintf("%s[%d]", path, i)
		rule, err := ParseRule(item, at)
		if err != nil {
			if ic, ok := err.(*InvalidConditionError); ok {
				ic.Index = i
			}
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ParseRule converts one decoded rule.
func ParseRule(raw any, path string) (schema.ConditionRule, error) {
	invalid := func(reason string) (schema.ConditionRule, error) {
		return schema.ConditionRule{}, &InvalidConditionError{Path: path, Rule: render(raw), Reason: reason}
	}

	switch v := raw.(type) {
	case string:
		switch v {
		case "allow":
			return schema.Allow(), nil
		case "deny":
			return schema.Deny(), nil
		}
		return invalid(`literal rules are "allow" or "deny"`)
	case map[string]any:
		return parseRuleObject(v, path, invalid)
	}
	return invalid("rule must be a string or an object")
}

func parseRuleObject(m map[string]any, path string, invalid func(string) (schema.ConditionRule, error)) (schema.ConditionRule, error) {
	var denyMessage string
	if dm, ok := m["denyMessage"]; ok {
		s, isString := dm.(string)
		if !isString || s == "" {
			return invalid("denyMessage must be a non-empty string")
		}
		denyMessage = s
	}

	switch {
	case len(m) == 1 && m["denyWithMessage"] != nil:
		msg, ok := m["denyWithMessage"].(string)
		if !ok {
			return invalid("denyWithMessage must be a string")
		}
		return schema.DenyWithMessage(msg), nil
	case has(m, "allowIf") && len(m) == keyCount(denyMessage):
		e, err := expr.ParseAt(m["allowIf"], path+".allowIf")
		if err != nil {
			return schema.ConditionRule{}, err
		}
		return schema.AllowIf(e, denyMessage), nil
	case has(m, "denyIf") && len(m) == keyCount(denyMessage):
		e, err := expr.ParseAt(m["denyIf"], path+".denyIf")
		if err != nil {
			return schema.ConditionRule{}, err
		}
		return schema.DenyIf(e, denyMessage), nil
	}
	return invalid("expected one of allowIf, denyIf or denyWithMessage")
}

func has(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func keyCount(denyMessage string) int {
	if denyMessage != "" {
		return 2
	}
	return 1
}

func render(raw any) string {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%v", raw)
	}
	return string(b)
}
