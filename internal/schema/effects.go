package schema

import "github.com/roach88/flowgate/internal/expr"

// EffectKind tags an EffectDefinition.
type EffectKind int

const (
	EffectInvalid EffectKind = iota
	EffectConditional
	EffectSendEmail
	EffectSet
	EffectUpdate
)

// EffectDefinition is a declarative side effect. Exactly the fields of its
// Kind are populated:
//
//	conditional: If, Effects
//	sendEmail:   To, Template, Params, ParamOrder, IncludeInHistory
//	set:         Property, Value, On, IncludeInHistory
//	update:      Properties, From, On, IncludeInHistory
type EffectDefinition struct {
	Kind EffectKind

	If      expr.Node
	Effects []EffectDefinition

	To         expr.Node
	Template   expr.Node
	Params     map[string]expr.Node
	ParamOrder []string

	Property expr.Node
	Value    expr.Node

	Properties expr.Node
	From       expr.Node

	On               expr.Node
	IncludeInHistory expr.Node
}
