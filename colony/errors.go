/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP statuses; nothing in the engine
  is logged-and-swallowed.

ERROR CATEGORIES:
  1. Caller errors - invalid transfer, insufficient stock, unknown ids.
     Rejected before any mutation; retrying unchanged input cannot help.
  2. Store errors - the persistence layer failed mid-operation. The
     engine guarantees full rollback, so these are safe to retry.

USAGE:
  if errors.Is(err, colony.ErrInsufficientStock) {
      // reject with 409, keep the request body for the operator
  }
  if colony.IsRetryable(err) {
      // surface as 503, client may retry
  }

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP responses
*/
package colony

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidTransfer is returned when source and destination dome are
	// identical, or the amount is not strictly positive. Never retryable.
	ErrInvalidTransfer = errors.New("invalid transfer")

	// ErrInvalidAmount is returned when an operation's amount has the wrong
	// sign for its movement kind, or is zero where a change is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientStock is returned when a debit exceeds the available
	// quantity. The caller may retry with a smaller amount or after
	// replenishment.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnknownDome is returned when a referenced dome does not exist.
	ErrUnknownDome = errors.New("unknown dome")

	// ErrUnknownResource is returned when a referenced resource does not exist.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrStoreUnavailable is returned when the underlying persistence failed
	// mid-operation. No partial effect is observable; safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLedgerWriteFailed is returned when the ledger append of an otherwise
	// valid operation failed. Stock deltas written in the same unit of work
	// are rolled back, so this never leaves an untraceable quantity change.
	ErrLedgerWriteFailed = errors.New("ledger write failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports a debit that would drive stock negative.
type InsufficientStockError struct {
	DomeID     DomeID
	ResourceID ResourceID
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock of %s in dome %s: available %s, requested %s",
		e.ResourceID, e.DomeID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// InvalidTransferError reports a transfer rejected before any mutation.
type InvalidTransferError struct {
	FromDomeID DomeID
	ToDomeID   DomeID
	Reason     string
}

func (e *InvalidTransferError) Error() string {
	return fmt.Sprintf("invalid transfer %s -> %s: %s", e.FromDomeID, e.ToDomeID, e.Reason)
}

func (e *InvalidTransferError) Unwrap() error {
	return ErrInvalidTransfer
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Only store unavailability qualifies; the engine never retries on its
// own because a repeated debit is not idempotent.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrLedgerWriteFailed)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransfer) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientStock)
}

// IsNotFound returns true if the error indicates a missing dome or resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownDome) ||
		errors.Is(err, ErrUnknownResource)
}
