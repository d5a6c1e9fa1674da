package shared

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies domain failures so transports can map them without matching
// on message text.
type Kind string

const (
	// KindValidation marks malformed input.
	KindValidation Kind = "validation_error"
	// KindPermission marks missing rights on a shop or capability.
	KindPermission Kind = "permission_error"
	// KindInsufficientStock marks a quantity shortfall on a source shop.
	KindInsufficientStock Kind = "insufficient_stock_error"
	// KindConflict marks an invalid state transition.
	KindConflict Kind = "conflict_error"
	// KindNotFound marks a missing resource.
	KindNotFound Kind = "not_found"
	// KindTimeout marks an aborted transaction deadline.
	KindTimeout Kind = "transaction_timeout_error"
	// KindStorage marks infrastructure failure inside a transaction.
	KindStorage Kind = "storage_error"
	// KindCache marks an advisory cache failure. Never aborts a write.
	KindCache Kind = "cache_error"
)

// Error is the domain error carried across service boundaries.
type Error struct {
	Kind    Kind
	Message string
	// ProductID names the offending product for insufficient stock errors.
	ProductID int64
	cause     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Permissionf builds a permission error.
func Permissionf(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStock builds a stock shortfall error naming the product.
func InsufficientStock(productID, requested, available int64) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		ProductID: productID,
		Message:   fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", productID, requested, available),
	}
}

// StorageError wraps an infrastructure failure. Context deadline errors map
// to KindTimeout so callers know the transaction was rolled back in full.
func StorageError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "transaction timed out and was rolled back", cause: err}
	}
	return &Error{Kind: KindStorage, Message: "storage failure", cause: err}
}

// KindOf extracts the kind from err, defaulting to KindStorage.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorage
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
