package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/schema"
	"github.com/roach88/flowgate/internal/store"
)

const msgConflict = "Resource changed concurrently; please retry."

// CreateResource stores a new resource. Data may name the initial state;
// otherwise the resource starts in its default state, or the first
// declared state. Creating a resource requires no permission.
func (e *Engine) CreateResource(ctx context.Context, p CreateResourceParams) (result CreateResult, err error) {
	ctx, done := e.tel.track(ctx, "engine.CreateResource", AttrResourceType.String(p.Type))
	defer func() { done(err) }()

	res, err := e.resourceDef(p.Type)
	if err != nil {
		return CreateResult{}, err
	}

	data := ir.Object{}
	var errs []string
	for _, name := range p.Data.SortedKeys() {
		v := p.Data[name]
		if name == schema.StateProperty {
			s, ok := v.(ir.String)
			if !ok || !res.HasState(string(s)) {
				errs = append(errs, fmt.Sprintf("'%s' is not a state of %s.", renderState(v), res.Name))
				continue
			}
			data[name] = s
			continue
		}
		prop, msg := writableProperty(res, name)
		if msg != "" {
			errs = append(errs, msg)
			continue
		}
		v, msg = checkProperty(prop, v)
		if msg != "" {
			errs = append(errs, msg)
			continue
		}
		data[name] = v
	}
	if len(errs) > 0 {
		return CreateResult{Errors: errs}, nil
	}
	if _, ok := data[schema.StateProperty]; !ok {
		if initial := res.InitialState(); initial != "" {
			data[schema.StateProperty] = ir.String(initial)
		}
	}

	rec, err := e.store.Create(ctx, p.Type, data)
	if err != nil {
		return CreateResult{}, fmt.Errorf("creating %s: %w", p.Type, err)
	}
	e.logger.InfoContext(ctx, "resource created",
		"resource", rec.ResourceRef.String(),
		"state", stateOf(rec.Data),
		"user", userID(p.AsUser),
	)
	return CreateResult{Success: true, Ref: rec.ResourceRef}, nil
}

// UpdateResource writes properties directly, outside of any action. Each
// property is checked against its write permissions; the state and
// calculated properties can't be written. Nothing is written unless every
// property passes. The result is the re-read resource.
func (e *Engine) UpdateResource(ctx context.Context, p UpdateResourceParams) (result ResourceResult, err error) {
	ref := ir.ResourceRef{UID: p.UID, Type: p.Type}
	ctx, done := e.tel.track(ctx, "engine.UpdateResource", refAttrs(ref)...)
	defer func() { done(err) }()

	res, err := e.resourceDef(p.Type)
	if err != nil {
		return ResourceResult{}, err
	}
	rec, found, err := e.load(ctx, ref)
	if err != nil {
		return ResourceResult{}, err
	}
	if !found {
		return ResourceResult{Errors: []string{notFoundMessage(ref)}}, nil
	}

	self, err := e.snapshot(res, rec.Data, p.AsUser)
	if err != nil {
		return ResourceResult{}, err
	}
	ectx := e.baseContext(p.AsUser).With(expr.WithSelf(self))

	patch := ir.Object{}
	var errs []string
	for _, name := range p.Data.SortedKeys() {
		if name == schema.StateProperty {
			errs = append(errs, "Property 'state' can only be changed by an action.")
			continue
		}
		prop, msg := writableProperty(res, name)
		if msg != "" {
			errs = append(errs, msg)
			continue
		}
		v, msg := checkProperty(prop, p.Data[name])
		if msg != "" {
			errs = append(errs, msg)
			continue
		}
		d, err := e.allow(prop.WritePermissions, p.AsUser, ectx)
		if err != nil {
			return ResourceResult{}, fmt.Errorf("%s.%s write permissions: %w", p.Type, name, err)
		}
		if !d.Allowed() {
			e.logger.DebugContext(ctx, "write denied",
				"resource", ref.String(),
				"property", name,
				"user", userID(p.AsUser),
				"reason", d.Reason,
			)
			errs = append(errs, fmt.Sprintf("Cannot write '%s': %s", name, reasonOr(d, "not allowed.")))
			continue
		}
		patch[name] = v
	}
	if len(errs) > 0 {
		return ResourceResult{Errors: errs}, nil
	}

	updated, err := e.store.CompareAndUpdate(ctx, ref, rec.Revision, patch)
	if errors.Is(err, store.ErrConflict) {
		return ResourceResult{Errors: []string{msgConflict}}, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return ResourceResult{Errors: []string{notFoundMessage(ref)}}, nil
	}
	if err != nil {
		return ResourceResult{}, fmt.Errorf("updating %s: %w", ref, err)
	}
	e.logger.InfoContext(ctx, "resource updated",
		"resource", ref.String(),
		"properties", patch.SortedKeys(),
		"user", userID(p.AsUser),
	)
	return e.view(ctx, res, updated, p.AsUser)
}

// writableProperty resolves a stored property by name, or explains why
// the name can't be written.
func writableProperty(res *schema.ResourceDefinition, name string) (*schema.PropertyDefinition, string) {
	if prop, ok := res.Properties[name]; ok {
		return prop, ""
	}
	if _, ok := res.Calculated(name); ok {
		return nil, fmt.Sprintf("Property '%s' is calculated and cannot be written.", name)
	}
	return nil, fmt.Sprintf("%s has no property '%s'.", res.Name, name)
}

// checkProperty coerces v to the property's type and reports a mismatch.
func checkProperty(prop *schema.PropertyDefinition, v ir.Value) (ir.Value, string) {
	v = coerce(prop.Type, v)
	if !prop.Type.Accepts(v) {
		return nil, fmt.Sprintf("Property '%s' must be %s.", prop.Name, describeType(prop.Type))
	}
	if emptyNotAllowed(prop.Type, v) {
		return nil, fmt.Sprintf("Property '%s' cannot be empty.", prop.Name)
	}
	return v, ""
}

func renderState(v ir.Value) string {
	if s, ok := v.(ir.String); ok {
		return string(s)
	}
	b, err := ir.MarshalValue(v)
	if err != nil {
		return ir.TypeName(v)
	}
	return string(b)
}
