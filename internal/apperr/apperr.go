// Package apperr holds the error taxonomy shared by the order core.
//
// Every structured error unwraps to exactly one kind sentinel so callers can
// branch with errors.Is(err, apperr.ErrBusinessRule) without knowing the
// concrete type.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation              = errors.New("validation error")
	ErrNotFound                = errors.New("not found")
	ErrBusinessRule            = errors.New("business rule violation")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindBusinessRule
	KindCollaboratorUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindBusinessRule:
		return "business_rule"
	case KindCollaboratorUnavailable:
		return "collaborator_unavailable"
	default:
		return "internal"
	}
}

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrBusinessRule):
		return KindBusinessRule
	case errors.Is(err, ErrCollaboratorUnavailable):
		return KindCollaboratorUnavailable
	default:
		return KindInternal
	}
}

type ValidationError struct {
	Field  string
	Reason string
}

func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Entity string
	ID     int64
}

func NotFound(entity string, id int64) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IsNotFound reports whether err is a NotFoundError for the given entity.
func IsNotFound(err error, entity string) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Entity == entity
}

type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrBusinessRule }

type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrBusinessRule }

// BusinessRuleError covers the remaining rule violations (refund limits,
// inactive products, on-hand below reserved).
type BusinessRuleError struct {
	Rule   string
	Detail string
}

func BusinessRule(rule, detail string) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Detail: detail}
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

func (e *BusinessRuleError) Unwrap() error { return ErrBusinessRule }

type CollaboratorError struct {
	Collaborator string
	Err          error
}

func Collaborator(name string, err error) *CollaboratorError {
	return &CollaboratorError{Collaborator: name, Err: err}
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() []error { return []error{ErrCollaboratorUnavailable, e.Err} }
