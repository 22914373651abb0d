package domain

import (
	"errors"
	"fmt"
	"strings"
)

// UserError carries one or more user-correctable validation messages. It is
// raised before any transaction opens wherever possible.
type UserError struct {
	Messages []string
}

// NewUserError builds a UserError from the given messages.
func NewUserError(messages ...string) UserError {
	return UserError{Messages: messages}
}

func (e UserError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// PermissionError reports a single denial reason from the permission gate.
type PermissionError struct {
	Reason string
}

func (e PermissionError) Error() string {
	return e.Reason
}

// ErrNotFound is returned when reference validation fails.
type ErrNotFound struct {
	Entity EntityType
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// ErrInternal is the generic failure surfaced for unexpected errors; the
// underlying cause is logged, never returned to callers.
var ErrInternal = errors.New("internal error")

// IsUserFacing reports whether err belongs to the user-correctable,
// authorization, or not-found classes that may be shown to callers verbatim.
func IsUserFacing(err error) bool {
	var userErr UserError
	var permErr PermissionError
	var notFound ErrNotFound
	var ruleErr RuleViolationError
	return errors.As(err, &userErr) || errors.As(err, &permErr) ||
		errors.As(err, &notFound) || errors.As(err, &ruleErr)
}
