// Package effects expands declarative effect definitions into evaluated
// effect results. Evaluation is pure: nothing is sent or stored here, so
// the engine can decide how and when the results are executed.
package effects

import (
	"errors"
	"fmt"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/schema"
)

// ErrNoSelf is returned when a set or update effect is evaluated without a
// resource bound to the context.
var ErrNoSelf = errors.New("effects: can't set without a resource in the expression context")

// SourceInput is the only supported source for update effects.
const SourceInput = "input"

type options struct {
	historyDefault bool
	target         ir.ResourceRef
}

// Option configures Evaluate.
type Option func(*options)

// WithHistoryDefault sets includeInHistory for effects that don't declare it.
func WithHistoryDefault(include bool) Option {
	return func(o *options) {
		o.historyDefault = include
	}
}

// WithTarget names the resource that set and update effects apply to.
func WithTarget(ref ir.ResourceRef) Option {
	return func(o *options) {
		o.target = ref
	}
}

// Evaluate expands defs in order. Conditional effects contribute their
// nested effects only when their condition is true.
func Evaluate(defs []schema.EffectDefinition, ctx *expr.Context, opts ...Option) ([]ir.EffectResult, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if ctx == nil {
		ctx = expr.NewContext()
	}

	out := []ir.EffectResult{}
	if err := evaluate(defs, ctx, o, "effects", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func evaluate(defs []schema.EffectDefinition, ctx *expr.Context, o options, path string, out *[]ir.EffectResult) error {
	for i, def := range defs {
		at := fmt.Sprintf("%s[%d]", path, i)

		switch def.Kind {
		case schema.EffectConditional:
			ok, err := expr.EvalBool(def.If, ctx)
			if err != nil {
				return fmt.Errorf("%s.effectIf: %w", at, err)
			}
			if ok {
				if err := evaluate(def.Effects, ctx, o, at+".effects", out); err != nil {
					return err
				}
			}
		case schema.EffectSendEmail:
			res, err := sendEmail(def, ctx, o)
			if err != nil {
				return fmt.Errorf("%s.sendEmail: %w", at, err)
			}
			*out = append(*out, res)
		case schema.EffectSet:
			res, err := set(def, ctx, o)
			if err != nil {
				return fmt.Errorf("%s.set: %w", at, err)
			}
			*out = append(*out, res)
		case schema.EffectUpdate:
			res, err := update(def, ctx, o)
			if err != nil {
				return fmt.Errorf("%s.update: %w", at, err)
			}
			*out = append(*out, res)
		default:
			return fmt.Errorf("%s: unknown effect kind %d", at, def.Kind)
		}
	}
	return nil
}

func sendEmail(def schema.EffectDefinition, ctx *expr.Context, o options) (ir.EffectResult, error) {
	to, err := expr.EvalString(def.To, ctx)
	if err != nil {
		return ir.EffectResult{}, fmt.Errorf("to: %w", err)
	}
	template, err := expr.EvalString(def.Template, ctx)
	if err != nil {
		return ir.EffectResult{}, fmt.Errorf("template: %w", err)
	}

	params := ir.Object{}
	for _, name := range def.ParamOrder {
		v, err := expr.Eval(def.Params[name], ctx)
		if err != nil {
			return ir.EffectResult{}, fmt.Errorf("params.%s: %w", name, err)
		}
		params[name] = v
	}

	include, err := includeInHistory(def, ctx, o)
	if err != nil {
		return ir.EffectResult{}, err
	}
	return ir.EffectResult{
		Kind:             ir.EffectEmail,
		To:               to,
		Template:         template,
		Params:           params,
		IncludeInHistory: include,
	}, nil
}

func set(def schema.EffectDefinition, ctx *expr.Context, o options) (ir.EffectResult, error) {
	if def.On != nil {
		return ir.EffectResult{}, &expr.NotImplementedError{Operation: "set.on"}
	}
	if _, ok := ctx.Self(); !ok {
		return ir.EffectResult{}, ErrNoSelf
	}

	property, err := expr.EvalString(def.Property, ctx)
	if err != nil {
		return ir.EffectResult{}, fmt.Errorf("property: %w", err)
	}
	value, err := expr.Eval(def.Value, ctx)
	if err != nil {
		return ir.EffectResult{}, fmt.Errorf("value: %w", err)
	}

	include, err := includeInHistory(def, ctx, o)
	if err != nil {
		return ir.EffectResult{}, err
	}
	return ir.EffectResult{
		Kind:             ir.EffectUpdate,
		On:               o.target,
		Properties:       ir.Object{property: value},
		IncludeInHistory: include,
	}, nil
}

// update copies the named properties from the action input onto the
// resource. Properties absent from the input are skipped.
func update(def schema.EffectDefinition, ctx *expr.Context, o options) (ir.EffectResult, error) {
	if def.On != nil {
		return ir.EffectResult{}, &expr.NotImplementedError{Operation: "update.on"}
	}
	if _, ok := ctx.Self(); !ok {
		return ir.EffectResult{}, ErrNoSelf
	}

	source := SourceInput
	if def.From != nil {
		s, err := expr.EvalString(def.From, ctx)
		if err != nil {
			return ir.EffectResult{}, fmt.Errorf("from: %w", err)
		}
		source = s
	}
	if source != SourceInput {
		return ir.EffectResult{}, &expr.NotImplementedError{Operation: "update.from " + source}
	}

	names, err := expr.EvalArray(def.Properties, ctx)
	if err != nil {
		return ir.EffectResult{}, fmt.Errorf("properties: %w", err)
	}
	input := ctx.Input()
	props := ir.Object{}
	for _, n := range names {
		name, ok := n.(ir.String)
		if !ok {
			return ir.EffectResult{}, &expr.TypeError{Expected: ir.TypeString, Received: ir.TypeName(n), Value: n, Stack: expr.Stack{"update", "properties"}}
		}
		if v, present := input[string(name)]; present {
			props[string(name)] = v
		}
	}

	include, err := includeInHistory(def, ctx, o)
	if err != nil {
		return ir.EffectResult{}, err
	}
	return ir.EffectResult{
		Kind:             ir.EffectUpdate,
		On:               o.target,
		Properties:       props,
		IncludeInHistory: include,
	}, nil
}

func includeInHistory(def schema.EffectDefinition, ctx *expr.Context, o options) (bool, error) {
	if def.IncludeInHistory == nil {
		return o.historyDefault, nil
	}
	include, err := expr.EvalBool(def.IncludeInHistory, ctx)
	if err != nil {
		return false, fmt.Errorf("includeInHistory: %w", err)
	}
	return include, nil
}
