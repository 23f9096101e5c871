// Package schema holds the typed model of a system definition: resource
// types, properties, actions, inputs, condition and permission rules, and
// effects. The compiler package builds it from definition files; the
// evaluators and the engine only ever see this form.
package schema
