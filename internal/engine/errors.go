package engine

import (
	"errors"
	"fmt"
)

// Error is a programmer error detected by the engine: the caller named
// something the system definition does not declare.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Type is the resource type involved.
	Type string

	// Action is the action involved, for ErrCodeUnknownAction.
	Action string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeUnknownType indicates the resource type is not defined.
	ErrCodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// ErrCodeUnknownAction indicates the action is not defined on the type.
	ErrCodeUnknownAction ErrorCode = "UNKNOWN_ACTION"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s: %s (type=%s, action=%s)", e.Code, e.Message, e.Type, e.Action)
	}
	return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Message, e.Type)
}

// IsUnknownType returns true if the error names an undefined resource type.
// Uses errors.As to handle wrapped errors.
func IsUnknownType(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeUnknownType
	}
	return false
}

// IsUnknownAction returns true if the error names an undefined action.
// Uses errors.As to handle wrapped errors.
func IsUnknownAction(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeUnknownAction
	}
	return false
}

func unknownType(typ string) *Error {
	return &Error{
		Code:    ErrCodeUnknownType,
		Message: "resource type is not defined",
		Type:    typ,
	}
}

func unknownAction(typ, action string) *Error {
	return &Error{
		Code:    ErrCodeUnknownAction,
		Message: "action is not defined for this resource type",
		Type:    typ,
		Action:  action,
	}
}
