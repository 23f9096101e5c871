// Package engine implements the resource action engine.
//
// The engine combines a compiled system definition with a data store and an
// email sender. Read operations resolve calculated properties and decide
// field visibility; action operations decide possibility (conditions,
// independent of the user) and allowance (permissions), validate input,
// expand the action's effects and execute them.
//
// RESULTS AND ERRORS:
//
// Request-specific failures (resource not found, access denied, action not
// possible or not allowed, invalid input) are business outcomes and are
// returned in a result's Errors list. Go errors are reserved for defects:
// an unknown resource type or action name (*Error), a malformed rule or an
// expression that fails to evaluate, and data store faults.
//
// EXECUTION:
//
// Effects are expanded before anything is written, so a broken effect
// definition leaves the resource untouched. Expanded effects then run
// strictly in order. Every write to the acted-on resource is a
// compare-and-swap on the record revision loaded when the action started,
// so two concurrent actions on the same resource cannot both apply, even
// when neither changes the state.
//
// Updates flagged for history are merged per target resource into a single
// HistoryEvent, written after the effects ran.
package engine
