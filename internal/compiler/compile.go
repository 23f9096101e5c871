package compiler

import (
	"fmt"
	"slices"

	"github.com/roach88/flowgate/internal/condition"
	"github.com/roach88/flowgate/internal/effects"
	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/permission"
	"github.com/roach88/flowgate/internal/schema"
)

// Compile converts a decoded definition document into a SystemDefinition.
// The document is expected to have passed ValidateDocument; Compile still
// reports shape problems it depends on. Semantic checks (state references,
// roles, calculated property cycles) run last, and all of them are
// reported together.
func Compile(doc any) (*schema.SystemDefinition, error) {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, &CompileError{Field: "definition", Message: "definition must be an object"}
	}

	def := &schema.SystemDefinition{
		Resources: make(map[string]*schema.ResourceDefinition),
		Functions: make(map[string]expr.Node),
	}

	name, err := str(root, "name", "name")
	if err != nil {
		return nil, err
	}
	def.Name = name

	if def.Roles, err = strList(root["roles"], "roles"); err != nil {
		return nil, err
	}

	fns, err := object(root["functions"], "functions")
	if err != nil {
		return nil, err
	}
	for _, fname := range sortedNames(fns) {
		n, err := expr.ParseAt(fns[fname], "functions."+fname)
		if err != nil {
			return nil, wrap("functions."+fname, err)
		}
		def.Functions[fname] = n
	}

	resources, err := object(root["resources"], "resources")
	if err != nil {
		return nil, err
	}
	for _, rname := range sortedNames(resources) {
		res, err := compileResource(rname, resources[rname], "resources."+rname)
		if err != nil {
			return nil, err
		}
		def.Resources[rname] = res
	}

	raw, err := ir.FromAny(doc)
	if err != nil {
		return nil, &CompileError{Field: "definition", Message: err.Error(), Err: err}
	}
	if def.Hash, err = ir.DefinitionHash(raw); err != nil {
		return nil, &CompileError{Field: "definition", Message: err.Error(), Err: err}
	}

	if errs := Validate(def); len(errs) > 0 {
		return nil, &ValidationErrors{Errors: errs}
	}
	if err := OrderCalculatedProperties(def); err != nil {
		return nil, err
	}
	return def, nil
}

func compileResource(name string, raw any, path string) (*schema.ResourceDefinition, error) {
	m, err := object(raw, path)
	if err != nil {
		return nil, err
	}

	res := &schema.ResourceDefinition{
		Name:              name,
		Properties:        make(map[string]*schema.PropertyDefinition),
		Actions:           make(map[string]*schema.ActionDefinition),
		ActionPermissions: make(map[string]schema.PermissionDefinition),
	}

	if res.Description, err = optStr(m, "description", path); err != nil {
		return nil, err
	}
	if res.States, err = strList(m["states"], path+".states"); err != nil {
		return nil, err
	}
	if res.DefaultState, err = optStr(m, "defaultState", path); err != nil {
		return nil, err
	}

	props, err := object(m["properties"], path+".properties")
	if err != nil {
		return nil, err
	}
	for _, pname := range sortedNames(props) {
		at := path + ".properties." + pname
		p, err := compileProperty(pname, props[pname], at)
		if err != nil {
			return nil, err
		}
		res.Properties[pname] = p
		res.PropertyOrder = append(res.PropertyOrder, pname)
	}

	calcs, err := object(m["calculatedProperties"], path+".calculatedProperties")
	if err != nil {
		return nil, err
	}
	for _, cname := range sortedNames(calcs) {
		at := path + ".calculatedProperties." + cname
		p, err := compileProperty(cname, calcs[cname], at)
		if err != nil {
			return nil, err
		}
		cm, _ := calcs[cname].(map[string]any)
		e, err := expr.ParseAt(cm["expression"], at+".expression")
		if err != nil {
			return nil, wrap(at+".expression", err)
		}
		res.CalculatedProperties = append(res.CalculatedProperties, &schema.CalculatedPropertyDefinition{
			PropertyDefinition: *p,
			Expression:         e,
		})
	}

	actionsKey := "actions"
	if _, legacy := m["transitions"]; legacy {
		if _, both := m["actions"]; both {
			return nil, &CompileError{Field: path, Message: "`actions` and `transitions` are aliases; declare only one"}
		}
		actionsKey = "transitions"
	}
	actions, err := object(m[actionsKey], path+"."+actionsKey)
	if err != nil {
		return nil, err
	}
	for _, aname := range sortedNames(actions) {
		a, err := compileAction(aname, actions[aname], path+"."+actionsKey+"."+aname)
		if err != nil {
			return nil, err
		}
		res.Actions[aname] = a
		res.ActionOrder = append(res.ActionOrder, aname)
	}

	if res.ReadPermissions, err = permission.Parse(m["readPermissions"], path+".readPermissions"); err != nil {
		return nil, wrap(path+".readPermissions", err)
	}

	aperms, err := object(m["actionPermissions"], path+".actionPermissions")
	if err != nil {
		return nil, err
	}
	for _, aname := range sortedNames(aperms) {
		at := path + ".actionPermissions." + aname
		rules, err := permission.Parse(aperms[aname], at)
		if err != nil {
			return nil, wrap(at, err)
		}
		res.ActionPermissions[aname] = rules
	}

	return res, nil
}

func compileProperty(name string, raw any, path string) (*schema.PropertyDefinition, error) {
	m, err := object(raw, path)
	if err != nil {
		return nil, err
	}
	p := &schema.PropertyDefinition{Name: name}

	if p.Type, err = compileType(m["type"], path+".type"); err != nil {
		return nil, err
	}
	extra, err := strList(m["constraints"], path+".constraints")
	if err != nil {
		return nil, err
	}
	for _, c := range extra {
		if !p.Type.Has(c) {
			p.Type.Constraints = append(p.Type.Constraints, c)
		}
	}

	if p.Description, err = optStr(m, "description", path); err != nil {
		return nil, err
	}
	if p.ReadPermissions, err = permission.Parse(m["readPermissions"], path+".readPermissions"); err != nil {
		return nil, wrap(path+".readPermissions", err)
	}
	if p.WritePermissions, err = permission.Parse(m["writePermissions"], path+".writePermissions"); err != nil {
		return nil, wrap(path+".writePermissions", err)
	}
	return p, nil
}

var primitiveTypes = []string{
	"string", "number", "boolean", "datetime",
	"string[]", "number[]", "boolean[]", "datetime[]",
}

func compileType(raw any, path string) (schema.PropertyType, error) {
	switch v := raw.(type) {
	case string:
		if !slices.Contains(primitiveTypes, v) {
			return schema.PropertyType{}, &CompileError{Field: path, Message: fmt.Sprintf("unknown property type %q", v)}
		}
		return schema.PropertyType{Tag: v}, nil
	case map[string]any:
		ref, err := str(v, "referenceTo", path)
		if err != nil {
			return schema.PropertyType{}, err
		}
		constraints, err := strList(v["constraints"], path+".constraints")
		if err != nil {
			return schema.PropertyType{}, err
		}
		return schema.PropertyType{ReferenceTo: ref, Constraints: constraints}, nil
	}
	return schema.PropertyType{}, &CompileError{Field: path, Message: "type must be a type name or a reference"}
}

func compileAction(name string, raw any, path string) (*schema.ActionDefinition, error) {
	m, err := object(raw, path)
	if err != nil {
		return nil, err
	}
	a := &schema.ActionDefinition{Name: name}

	switch from := m["from"].(type) {
	case string:
		a.From = []string{from}
	case []any:
		if a.From, err = strList(from, path+".from"); err != nil {
			return nil, err
		}
	default:
		return nil, &CompileError{Field: path + ".from", Message: "from must be a state name or a list of state names"}
	}

	if a.To, err = optStr(m, "to", path); err != nil {
		return nil, err
	}
	if a.Description, err = optStr(m, "description", path); err != nil {
		return nil, err
	}
	if a.Conditions, err = condition.Parse(m["conditions"], path+".conditions"); err != nil {
		return nil, wrap(path+".conditions", err)
	}
	if a.Permissions, err = permission.Parse(m["permissions"], path+".permissions"); err != nil {
		return nil, wrap(path+".permissions", err)
	}
	if a.Effects, err = effects.Parse(m["effects"], path+".effects"); err != nil {
		return nil, wrap(path+".effects", err)
	}
	if h, ok := m["includeInHistory"]; ok {
		if a.IncludeInHistory, err = expr.ParseAt(h, path+".includeInHistory"); err != nil {
			return nil, wrap(path+".includeInHistory", err)
		}
	}
	if in, ok := m["input"]; ok {
		if a.Input, err = compileInput(in, path+".input"); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func compileInput(raw any, path string) (*schema.InputDefinition, error) {
	m, err := object(raw, path)
	if err != nil {
		return nil, err
	}
	in := &schema.InputDefinition{Fields: make(map[string]*schema.InputField)}

	fields, err := object(m["fields"], path+".fields")
	if err != nil {
		return nil, err
	}
	for _, fname := range sortedNames(fields) {
		at := path + ".fields." + fname
		fm, err := object(fields[fname], at)
		if err != nil {
			return nil, err
		}
		f := &schema.InputField{Name: fname}
		if f.Type, err = compileType(fm["type"], at+".type"); err != nil {
			return nil, err
		}
		if req, ok := fm["required"]; ok {
			b, isBool := req.(bool)
			if !isBool {
				return nil, &CompileError{Field: at + ".required", Message: "required must be a boolean"}
			}
			f.Required = b
		}
		if f.Validation, err = condition.Parse(fm["validation"], at+".validation"); err != nil {
			return nil, wrap(at+".validation", err)
		}
		in.Fields[fname] = f
		in.FieldOrder = append(in.FieldOrder, fname)
	}

	if in.Validation, err = condition.Parse(m["validation"], path+".validation"); err != nil {
		return nil, wrap(path+".validation", err)
	}
	return in, nil
}

func object(raw any, path string) (map[string]any, error) {
	if raw == nil {
		return map[string]any{}, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &CompileError{Field: path, Message: "must be an object"}
	}
	return m, nil
}

func str(m map[string]any, key, path string) (string, error) {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", &CompileError{Field: path, Message: fmt.Sprintf("%s is required and must be a non-empty string", key)}
	}
	return s, nil
}

func optStr(m map[string]any, key, path string) (string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &CompileError{Field: path + "." + key, Message: "must be a string"}
	}
	return s, nil
}

func strList(raw any, path string) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, &CompileError{Field: path, Message: "must be a list of strings"}
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, &CompileError{Field: fmt.Sprintf("%s[%d]", path, i), Message: "must be a string"}
		}
		out = append(out, s)
	}
	return out, nil
}
