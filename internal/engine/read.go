package engine

import (
	"context"
	"fmt"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/schema"
)

const (
	msgReadDenied  = "You are not allowed to read this resource."
	msgFieldDenied = "You are not allowed to read this property."
)

// ListResources returns the resources of a type the user may read, in
// creation order.
func (e *Engine) ListResources(ctx context.Context, p ListResourcesParams) (result ListResult, err error) {
	ctx, done := e.tel.track(ctx, "engine.ListResources", AttrResourceType.String(p.Type))
	defer func() { done(err) }()

	res, err := e.resourceDef(p.Type)
	if err != nil {
		return ListResult{}, err
	}
	recs, err := e.store.List(ctx, p.Type)
	if err != nil {
		return ListResult{}, fmt.Errorf("listing %s: %w", p.Type, err)
	}

	result.Resources = []ir.ResourceRef{}
	for _, rec := range recs {
		self, err := e.snapshot(res, rec.Data, p.AsUser)
		if err != nil {
			return ListResult{}, err
		}
		d, err := e.allow(res.ReadPermissions, p.AsUser, e.baseContext(p.AsUser).With(expr.WithSelf(self)))
		if err != nil {
			return ListResult{}, fmt.Errorf("%s read permissions: %w", rec.ResourceRef, err)
		}
		if d.Allowed() {
			result.Resources = append(result.Resources, rec.ResourceRef)
		}
	}
	return result, nil
}

// GetResource reads a resource as the user sees it. Calculated properties
// are resolved; each property's visibility is decided by its own read
// permissions. The state is always visible.
func (e *Engine) GetResource(ctx context.Context, p GetResourceParams) (result ResourceResult, err error) {
	ref := ir.ResourceRef{UID: p.UID, Type: p.Type}
	ctx, done := e.tel.track(ctx, "engine.GetResource", refAttrs(ref)...)
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
	return e.view(ctx, res, rec, p.AsUser)
}

// view applies read permissions to a loaded record.
func (e *Engine) view(ctx context.Context, res *schema.ResourceDefinition, rec ir.Record, user *ir.User) (ResourceResult, error) {
	self, err := e.snapshot(res, rec.Data, user)
	if err != nil {
		return ResourceResult{}, err
	}
	ectx := e.baseContext(user).With(expr.WithSelf(self))

	d, err := e.allow(res.ReadPermissions, user, ectx)
	if err != nil {
		return ResourceResult{}, fmt.Errorf("%s read permissions: %w", rec.ResourceRef, err)
	}
	if !d.Allowed() {
		e.logger.DebugContext(ctx, "read denied",
			"resource", rec.ResourceRef.String(),
			"user", userID(user),
			"reason", d.Reason,
		)
		return ResourceResult{Errors: []string{reasonOr(d, msgReadDenied)}}, nil
	}

	out := &Resource{
		ResourceRef: rec.ResourceRef,
		State:       stateOf(self),
		Fields:      make([]Field, 0, len(res.PropertyOrder)+len(res.CalculatedProperties)),
	}

	field := func(name string, rules schema.PermissionDefinition, calculated bool) error {
		f := Field{Name: name, Calculated: calculated}
		d, err := e.allow(rules, user, ectx)
		if err != nil {
			return fmt.Errorf("%s.%s read permissions: %w", rec.Type, name, err)
		}
		if d.Allowed() {
			f.Visible = true
			f.Value = self.Get(name)
		} else {
			f.Errors = []string{reasonOr(d, msgFieldDenied)}
		}
		out.Fields = append(out.Fields, f)
		return nil
	}

	for _, name := range res.PropertyOrder {
		if err := field(name, res.Properties[name].ReadPermissions, false); err != nil {
			return ResourceResult{}, err
		}
	}
	for _, c := range res.CalculatedProperties {
		if err := field(c.Name, c.ReadPermissions, true); err != nil {
			return ResourceResult{}, err
		}
	}
	return ResourceResult{Success: true, Resource: out}, nil
}

// GetHistory returns the history of a resource the user may read.
func (e *Engine) GetHistory(ctx context.Context, p GetHistoryParams) (result HistoryResult, err error) {
	ref := ir.ResourceRef{UID: p.UID, Type: p.Type}
	ctx, done := e.tel.track(ctx, "engine.GetHistory", refAttrs(ref)...)
	defer func() { done(err) }()

	res, err := e.resourceDef(p.Type)
	if err != nil {
		return HistoryResult{}, err
	}
	rec, found, err := e.load(ctx, ref)
	if err != nil {
		return HistoryResult{}, err
	}
	if !found {
		return HistoryResult{Errors: []string{notFoundMessage(ref)}}, nil
	}

	self, err := e.snapshot(res, rec.Data, p.AsUser)
	if err != nil {
		return HistoryResult{}, err
	}
	d, err := e.allow(res.ReadPermissions, p.AsUser, e.baseContext(p.AsUser).With(expr.WithSelf(self)))
	if err != nil {
		return HistoryResult{}, fmt.Errorf("%s read permissions: %w", ref, err)
	}
	if !d.Allowed() {
		return HistoryResult{Errors: []string{reasonOr(d, msgReadDenied)}}, nil
	}

	events, err := e.store.GetHistory(ctx, ref)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("reading history of %s: %w", ref, err)
	}
	return HistoryResult{Success: true, Events: events}, nil
}
