package effects

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/schema"
)

// InvalidEffectError reports a malformed effect definition.
type InvalidEffectError struct {
	Path   string
	Reason string
}

func (e *InvalidEffectError) Error() string {
	return fmt.Sprintf("invalid effect at %s: %s", e.Path, e.Reason)
}

// IsInvalidEffect returns true if err is an InvalidEffectError.
func IsInvalidEffect(err error) bool {
	var ie *InvalidEffectError
	return errors.As(err, &ie)
}

// Parse converts a decoded effect list. A nil raw value is an empty list.
func Parse(raw any, path string) ([]schema.EffectDefinition, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, &InvalidEffectError{Path: path, Reason: "effects list must be an array"}
	}

	defs := make([]schema.EffectDefinition, 0, len(items))
	for i, item := range items {
		def, err := parseEffect(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseEffect(raw any, path string) (schema.EffectDefinition, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return schema.EffectDefinition{}, &InvalidEffectError{Path: path, Reason: "effect must be an object"}
	}

	if _, hasIf := m["effectIf"]; hasIf {
		return parseConditional(m, path)
	}
	if len(m) != 1 {
		return schema.EffectDefinition{}, &InvalidEffectError{Path: path, Reason: "effect definition must have only one key"}
	}

	var kind string
	for k := range m {
		kind = k
	}
	at := path + "." + kind
	args, ok := m[kind].(map[string]any)
	if !ok {
		return schema.EffectDefinition{}, &InvalidEffectError{Path: at, Reason: "arguments must be an object"}
	}

	switch kind {
	case "sendEmail":
		return parseSendEmail(args, at)
	case "set":
		return parseSet(args, at)
	case "update":
		return parseUpdate(args, at)
	}
	return schema.EffectDefinition{}, &InvalidEffectError{Path: path, Reason: fmt.Sprintf("unknown effect %q", kind)}
}

func parseConditional(m map[string]any, path string) (schema.EffectDefinition, error) {
	if len(m) != 2 || m["effects"] == nil {
		return schema.EffectDefinition{}, &InvalidEffectError{Path: path, Reason: "effectIf requires exactly `effectIf` and `effects`"}
	}
	cond, err := expr.ParseAt(m["effectIf"], path+".effectIf")
	if err != nil {
		return schema.EffectDefinition{}, err
	}
	nested, err := Parse(m["effects"], path+".effects")
	if err != nil {
		return schema.EffectDefinition{}, err
	}
	return schema.EffectDefinition{Kind: schema.EffectConditional, If: cond, Effects: nested}, nil
}

// fields parses the named argument expressions, rejecting unknown keys and
// missing required ones.
func fields(args map[string]any, path string, required, optional []string) (map[string]expr.Node, error) {
	allowed := make(map[string]bool, len(required)+len(optional))
	for _, k := range slices.Concat(required, optional) {
		allowed[k] = true
	}
	for k := range args {
		if !allowed[k] {
			return nil, &InvalidEffectError{Path: path, Reason: fmt.Sprintf("unexpected argument %q", k)}
		}
	}
	for _, k := range required {
		if _, ok := args[k]; !ok {
			return nil, &InvalidEffectError{Path: path, Reason: fmt.Sprintf("missing argument %q", k)}
		}
	}

	out := make(map[string]expr.Node, len(args))
	for k, v := range args {
		if k == "params" {
			continue
		}
		n, err := expr.ParseAt(v, path+"."+k)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

func parseSendEmail(args map[string]any, path string) (schema.EffectDefinition, error) {
	f, err := fields(args, path, []string{"to", "template"}, []string{"params", "includeInHistory"})
	if err != nil {
		return schema.EffectDefinition{}, err
	}
	def := schema.EffectDefinition{
		Kind:             schema.EffectSendEmail,
		To:               f["to"],
		Template:         f["template"],
		IncludeInHistory: f["includeInHistory"],
		Params:           map[string]expr.Node{},
	}

	if raw, ok := args["params"]; ok && raw != nil {
		params, ok := raw.(map[string]any)
		if !ok {
			return schema.EffectDefinition{}, &InvalidEffectError{Path: path + ".params", Reason: "params must be an object"}
		}
		for name, v := range params {
			n, err := expr.ParseAt(v, path+".params."+name)
			if err != nil {
				return schema.EffectDefinition{}, err
			}
			def.Params[name] = n
			def.ParamOrder = append(def.ParamOrder, name)
		}
		sort.Strings(def.ParamOrder)
	}
	return def, nil
}

func parseSet(args map[string]any, path string) (schema.EffectDefinition, error) {
	f, err := fields(args, path, []string{"property", "value"}, []string{"on", "includeInHistory"})
	if err != nil {
		return schema.EffectDefinition{}, err
	}
	return schema.EffectDefinition{
		Kind:             schema.EffectSet,
		Property:         f["property"],
		Value:            f["value"],
		On:               f["on"],
		IncludeInHistory: f["includeInHistory"],
	}, nil
}

func parseUpdate(args map[string]any, path string) (schema.EffectDefinition, error) {
	f, err := fields(args, path, []string{"properties"}, []string{"from", "on", "to", "includeInHistory"})
	if err != nil {
		return schema.EffectDefinition{}, err
	}
	on := f["on"]
	if on == nil {
		on = f["to"]
	}
	return schema.EffectDefinition{
		Kind:             schema.EffectUpdate,
		Properties:       f["properties"],
		From:             f["from"],
		On:               on,
		IncludeInHistory: f["includeInHistory"],
	}, nil
}
