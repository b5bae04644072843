package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrOverPayment        = errors.New("payment exceeds outstanding amount")
	ErrInvalidCustomer    = errors.New("invalid customer")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientCredit = errors.New("insufficient deposit credit")
	ErrTransactionFailed  = errors.New("transaction failed after retries")
	ErrForbidden          = errors.New("forbidden")
)

// InsufficientStockError reports the first stock key that could not cover a
// request.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	key := e.ProductID
	if e.VariantID != "" {
		key += "/" + e.VariantID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", key, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type ValidationError struct {
	Err     error
	Details []string
}

func (e *ValidationError) Error() string {
	base := e.Unwrap().Error()
	if len(e.Details) == 0 {
		return base
	}
	return fmt.Sprintf("%s: %s", base, strings.Join(e.Details, "; "))
}

func (e *ValidationError) Unwrap() error {
	if e.Err == nil {
		return ErrValidation
	}
	return e.Err
}

// Invalid builds a ValidationError wrapping ErrValidation.
func Invalid(details ...string) error {
	return &ValidationError{Err: ErrValidation, Details: details}
}
