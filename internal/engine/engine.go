package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/flowgate/internal/condition"
	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/mail"
	"github.com/roach88/flowgate/internal/permission"
	"github.com/roach88/flowgate/internal/schema"
	"github.com/roach88/flowgate/internal/store"
)

// Engine executes the operations of one system definition against a data
// store and an email sender.
//
// Thread-safety: an Engine holds no mutable state of its own and is safe
// for concurrent use. Writes to the acted-on resource are compare-and-swaps
// on the record revision read at the start of the operation, so of two
// concurrent actions or updates on one resource only the first to write
// applies; the other reports a conflict.
type Engine struct {
	def    *schema.SystemDefinition
	store  store.DataStore
	mailer mail.Sender
	logger *slog.Logger
	clock  Clock

	tracer trace.Tracer
	meter  metric.Meter
	tel    *telemetry
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock sets the clock used to timestamp history events.
// Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithTracer sets the tracer engine operations are traced with.
// Default: the global tracer provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithMeter sets the meter engine metrics are recorded with.
// Default: the global meter provider's meter.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) {
		e.meter = m
	}
}

// New creates an Engine for def. A nil mailer logs emails instead of
// sending them.
func New(def *schema.SystemDefinition, st store.DataStore, mailer mail.Sender, opts ...Option) *Engine {
	e := &Engine{
		def:    def,
		store:  st,
		mailer: mailer,
		logger: slog.Default(),
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.mailer == nil {
		e.mailer = mail.LogSender{Logger: e.logger}
	}
	e.tel = newTelemetry(e.tracer, e.meter)

	e.logger.Debug("engine created",
		"system", def.Name,
		"resource_types", len(def.Resources),
		"definition_hash", def.Hash,
	)
	return e
}

// Definition returns the system definition the engine executes.
func (e *Engine) Definition() *schema.SystemDefinition {
	return e.def
}

// ListResourceTypes returns the defined resource types in sorted order.
func (e *Engine) ListResourceTypes() []string {
	return e.def.ResourceTypes()
}

func (e *Engine) resourceDef(typ string) (*schema.ResourceDefinition, error) {
	res, ok := e.def.Resource(typ)
	if !ok {
		return nil, unknownType(typ)
	}
	return res, nil
}

// baseContext is the expression context every evaluation starts from.
func (e *Engine) baseContext(user *ir.User) *expr.Context {
	return expr.NewContext(
		expr.WithFunctions(e.def.Functions),
		expr.WithUser(user),
	)
}

// load reads a resource. A missing resource reports found=false without
// an error.
func (e *Engine) load(ctx context.Context, ref ir.ResourceRef) (rec ir.Record, found bool, err error) {
	rec, err = e.store.Read(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Record{}, false, nil
	}
	if err != nil {
		return ir.Record{}, false, fmt.Errorf("reading %s: %w", ref, err)
	}
	return rec, true, nil
}

// snapshot returns the resource data as expressions see it: stored values
// coerced to their declared types, plus every calculated property. Each
// calculated property sees the ones ordered before it.
func (e *Engine) snapshot(res *schema.ResourceDefinition, data ir.Object, user *ir.User) (ir.Object, error) {
	self := data.Clone()
	if self == nil {
		self = ir.Object{}
	}
	for name, p := range res.Properties {
		if v, ok := self[name]; ok {
			self[name] = coerce(p.Type, v)
		}
	}

	base := e.baseContext(user)
	for _, c := range res.CalculatedProperties {
		v, err := expr.Eval(c.Expression, base.With(expr.WithSelf(self)))
		if err != nil {
			return nil, fmt.Errorf("calculated property %s.%s: %w", res.Name, c.Name, err)
		}
		self[c.Name] = v
	}
	return self, nil
}

// allow evaluates permission rules for user. An empty rule list allows
// without looking at the user.
func (e *Engine) allow(rules schema.PermissionDefinition, user *ir.User, ectx *expr.Context) (condition.Result, error) {
	if len(rules) == 0 {
		return condition.Result{Decision: condition.Allow}, nil
	}
	return permission.Evaluate(rules, user, ectx)
}

func refAttrs(ref ir.ResourceRef) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrResourceType.String(ref.Type),
		AttrResourceUID.String(ref.UID),
	}
}

func userID(u *ir.User) string {
	if u == nil {
		return ""
	}
	return u.UID
}

func reasonOr(r condition.Result, fallback string) string {
	if r.Reason != "" {
		return r.Reason
	}
	return fallback
}

func notFoundMessage(ref ir.ResourceRef) string {
	return fmt.Sprintf("No %s with uid '%s' exists.", ref.Type, ref.UID)
}
