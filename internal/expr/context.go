package expr

import (
	"maps"

	"github.com/roach88/flowgate/internal/ir"
)

// Context is the immutable environment an expression is evaluated in.
// Derive variations with With; never mutate one that may be shared.
type Context struct {
	self      ir.Object
	hasSelf   bool
	user      *ir.User
	input     ir.Object
	functions map[string]Node
}

// Option configures a Context.
type Option func(*Context)

// WithSelf binds the current resource snapshot. A nil object leaves self
// unbound.
func WithSelf(self ir.Object) Option {
	return func(c *Context) {
		c.self = self
		c.hasSelf = self != nil
	}
}

// WithUser binds the acting user.
func WithUser(u *ir.User) Option {
	return func(c *Context) {
		c.user = u
	}
}

// WithInput binds the action input.
func WithInput(input ir.Object) Option {
	return func(c *Context) {
		c.input = input
	}
}

// WithFunctions adds named functions. Later definitions replace earlier ones
// with the same name, including standard library entries.
func WithFunctions(fns map[string]Node) Option {
	return func(c *Context) {
		merged := make(map[string]Node, len(c.functions)+len(fns))
		maps.Copy(merged, c.functions)
		maps.Copy(merged, fns)
		c.functions = merged
	}
}

// NewContext returns a context with the standard library loaded.
func NewContext(opts ...Option) *Context {
	c := &Context{functions: stdlib}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// With returns a copy of c with opts applied.
func (c *Context) With(opts ...Option) *Context {
	cp := *c
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// Self returns the bound resource snapshot.
func (c *Context) Self() (ir.Object, bool) {
	return c.self, c.hasSelf
}

// User returns the acting user, or nil.
func (c *Context) User() *ir.User {
	return c.user
}

// Input returns the action input, or nil.
func (c *Context) Input() ir.Object {
	return c.input
}

// Function looks up a named function.
func (c *Context) Function(name string) (Node, bool) {
	n, ok := c.functions[name]
	return n, ok
}
