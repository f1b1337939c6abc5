package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across the core.
// Validation and precondition failures are raised before any mutation;
// once a unit of work starts it either fully commits or fully rolls back.

// ErrValidation indicates malformed or out-of-range input. Never persisted.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrNotFound indicates a referenced entity is absent, or exists but
// belongs to someone else. The two cases are deliberately conflated so
// that non-owners cannot probe for existence.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrForbidden indicates the caller lacks permission for an operation
// whose existence is not secret (e.g. admin-only listings).
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrInvalidState indicates the operation is not legal for the entity's
// current state (closing a non-zero account, paying a PAID credit).
type ErrInvalidState struct {
	Resource string
	Message  string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("invalid state [%s]: %s", e.Resource, e.Message)
}

// ErrInsufficientFunds indicates not enough balance for the operation.
type ErrInsufficientFunds struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: available=%s required=%s",
		e.Available.StringFixed(2), e.Required.StringFixed(2))
}

// ErrUnauthorized indicates no valid identity (missing/invalid token,
// or a blocked user).
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict indicates a uniqueness violation (e.g. account number).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrExternalService indicates a failure in an external collaborator call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}
