package permission

import (
	"fmt"

	"github.com/roach88/flowgate/internal/condition"
	"github.com/roach88/flowgate/internal/schema"
)

// Parse converts a decoded permission rule list. A nil raw value is an
// empty list.
func Parse(raw any, path string) (schema.PermissionDefinition, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, &InvalidPermissionError{Path: path, Reason: "permissions must be a list of rules"}
	}

	rules := make(schema.PermissionDefinition, 0, len(items))
	for i, item := range items {
		at := fmt.Sprintf("%s[%d]", path, i)
		rule, err := parseRule(item, at)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseRule(raw any, path string) (schema.PermissionRule, error) {
	m, isObject := raw.(map[string]any)
	if !isObject || m["denyWithMessage"] != nil {
		lit, err := condition.ParseRule(raw, path)
		if err != nil {
			return schema.PermissionRule{}, &InvalidPermissionError{Path: path, Reason: err.Error()}
		}
		return schema.LiteralPermission(lit), nil
	}

	rolesRaw, hasRoles := m["roles"].([]any)
	if !hasRoles || len(m) != 2 {
		return schema.PermissionRule{}, &InvalidPermissionError{Path: path, Reason: "rule must include `roles` and `conditions` lists"}
	}
	roles := make([]string, 0, len(rolesRaw))
	for _, r := range rolesRaw {
		s, ok := r.(string)
		if !ok {
			return schema.PermissionRule{}, &InvalidPermissionError{Path: path + ".roles", Reason: "roles must be strings"}
		}
		roles = append(roles, s)
	}

	if _, ok := m["conditions"].([]any); !ok {
		return schema.PermissionRule{}, &InvalidPermissionError{Path: path, Reason: "rule must include `roles` and `conditions` lists"}
	}
	conds, err := condition.Parse(m["conditions"], path+".conditions")
	if err != nil {
		return schema.PermissionRule{}, err
	}
	if conds == nil {
		conds = schema.ConditionDefinition{}
	}
	return schema.RolePermission(roles, conds...), nil
}
