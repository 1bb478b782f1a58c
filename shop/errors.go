/*
errors.go - Centralized error taxonomy for the storefront engine

ERROR CATEGORIES:
  1. Validation errors  - bad input, unknown product; no state change
  2. Precondition        - identity not linked; no state change
  3. Business rejections - insufficient funds/stock; no state change
  4. Invariant failures  - negative balance, conversion failure; fatal
  5. Post-commit         - delivery failure; funds and stock stay committed

USAGE:
  Everything below the coordinator boundary is wrapped into one of these
  before it reaches a caller. Classify with the helpers at the bottom:

    if shop.IsClientError(err) { ... reject politely ... }
    if shop.IsFatal(err)       { ... page someone ... }

SEE ALSO:
  - currency: ErrInsufficientFunds and ErrConversion sentinels
  - trade: The coordinator that applies this taxonomy
*/
package shop

import (
	"errors"
	"fmt"

	"github.com/lockshop/engine/currency"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input: a non-positive or
	// over-ceiling quantity, an empty product code. Always safe to retry
	// with corrected input.
	ErrValidation = errors.New("validation failed")

	// ErrAccountNotLinked is returned when a caller identity has no account
	// key bound. A precondition failure, not an engine failure.
	ErrAccountNotLinked = errors.New("account not linked")

	// ErrProductNotFound is returned for an unknown product code.
	ErrProductNotFound = errors.New("product not found")

	// ErrProductExists is returned when creating a product whose code is taken.
	ErrProductExists = errors.New("product already exists")

	// ErrProductInactive is returned when purchasing a disabled product.
	ErrProductInactive = errors.New("product not purchasable")

	// ErrProductHasStock blocks deleting a product with available units.
	ErrProductHasStock = errors.New("product still has available stock")

	// ErrInsufficientStock is returned when a reservation cannot be filled.
	// Nothing was reserved.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNegativeBalance is returned when a delta would take the total or
	// any single denomination below zero. The attempt was not applied. When
	// this surfaces from a path that pre-checked funds, the atomicity
	// guarantee itself is broken: treat as fatal.
	ErrNegativeBalance = errors.New("balance cannot go negative")

	// ErrIdentityTaken is returned when linking an account key that another
	// external identity already claimed.
	ErrIdentityTaken = errors.New("account key already linked to another identity")

	// ErrDeliveryFailed marks a committed purchase whose items could not be
	// sent. Non-fatal: the items are disclosed inline instead.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrConfirmationRequired is returned by destructive admin operations
	// invoked without a valid confirmation token.
	ErrConfirmationRequired = errors.New("confirmation required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports a purchase or debit short on balance.
type InsufficientFundsError struct {
	Key       AccountKey
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %d WL, have %d WL", e.Required, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error {
	return currency.ErrInsufficientFunds
}

// InsufficientStockError reports a reservation short on units.
type InsufficientStockError struct {
	ProductCode string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductCode, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsClientError reports whether the error is a safe, user-facing rejection
// that left all state untouched.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAccountNotLinked) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrProductExists) ||
		errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrProductHasStock) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrIdentityTaken) ||
		errors.Is(err, ErrConfirmationRequired) ||
		errors.Is(err, currency.ErrInsufficientFunds)
}

// IsFatal reports whether the error indicates a broken engine invariant
// rather than a recoverable rejection. These must alert, never be retried
// silently.
func IsFatal(err error) bool {
	return errors.Is(err, currency.ErrConversion)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrAccountNotLinked)
}
