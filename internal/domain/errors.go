package domain

import (
	"fmt"
	"net/http"

	apperrors "github.com/palletline/inventory/pkg/errors"
)

// Inventory error codes surfaced to callers.
const (
	CodeInvalidQuantity    = "INVALID_QUANTITY"
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
	CodeUnknownWarehouse   = "UNKNOWN_WAREHOUSE"
	CodeUnknownVariant     = "UNKNOWN_VARIANT"
	CodeConcurrentConflict = "CONCURRENT_CONFLICT"
	CodeInvariantViolation = "INVARIANT_VIOLATION"
)

// ErrInvalidQuantity rejects non-positive or malformed quantities before any
// state is touched.
func ErrInvalidQuantity(message string) *apperrors.AppError {
	return apperrors.New(CodeInvalidQuantity, message, http.StatusBadRequest, apperrors.ErrInvalidInput)
}

// ErrInsufficientStock rejects an operation whose precondition fails against
// the locked level row. The message carries enough context for the caller to
// render an actionable error.
func ErrInsufficientStock(variantID, warehouseID string, requested, available int) *apperrors.AppError {
	return apperrors.New(
		CodeInsufficientStock,
		fmt.Sprintf("insufficient stock for variant %s in warehouse %s: requested %d, available %d",
			variantID, warehouseID, requested, available),
		http.StatusConflict,
		apperrors.ErrConflict,
	)
}

// ErrUnknownWarehouse reports a warehouse reference that does not exist.
func ErrUnknownWarehouse(key string) *apperrors.AppError {
	msg := "no default warehouse configured"
	if key != "" {
		msg = fmt.Sprintf("warehouse %q not found", key)
	}
	return apperrors.New(CodeUnknownWarehouse, msg, http.StatusNotFound, apperrors.ErrNotFound)
}

// ErrUnknownVariant reports a variant reference that does not exist.
func ErrUnknownVariant(key string) *apperrors.AppError {
	return apperrors.New(
		CodeUnknownVariant,
		fmt.Sprintf("variant %q not found", key),
		http.StatusNotFound,
		apperrors.ErrNotFound,
	)
}

// ErrConcurrentConflict is returned after an operation lost the retry race;
// the whole operation is safe to retry.
func ErrConcurrentConflict(variantID, warehouseID string) *apperrors.AppError {
	return apperrors.New(
		CodeConcurrentConflict,
		fmt.Sprintf("concurrent update conflict for variant %s in warehouse %s, retry the operation",
			variantID, warehouseID),
		http.StatusConflict,
		apperrors.ErrConflict,
	)
}

// ErrInvariantViolation reports that a computed level row would break
// 0 <= reserved <= on_hand. The transaction is rolled back; this path is
// unreachable unless there is a bug.
func ErrInvariantViolation(variantID, warehouseID string, onHand, reserved int) *apperrors.AppError {
	return apperrors.New(
		CodeInvariantViolation,
		fmt.Sprintf("stock level invariant violated for variant %s in warehouse %s: on_hand=%d reserved=%d",
			variantID, warehouseID, onHand, reserved),
		http.StatusInternalServerError,
		apperrors.ErrInternal,
	)
}
