package engine

import (
	"errors"
	"fmt"
)

// ErrNoActiveTransaction is returned by cart operations when no transaction
// is in progress.
var ErrNoActiveTransaction = errors.New("no active transaction")

// TransactionConflictError is returned when a transaction is started while
// another is already in progress.
type TransactionConflictError struct {
	ExistingID string
}

func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("transaction %s already in progress", e.ExistingID)
}

// InvalidQuantityError is returned when an item is added with a quantity
// below one.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.ProductID)
}

// InvalidPaymentAmountError is returned when a payment is added with a
// non-positive amount.
type InvalidPaymentAmountError struct {
	AmountCents int64
}

func (e *InvalidPaymentAmountError) Error() string {
	return fmt.Sprintf("invalid payment amount %d cents", e.AmountCents)
}

// InsufficientPaymentError is returned by CompleteTransaction when the
// payments collected do not cover the transaction total.
type InsufficientPaymentError struct {
	TotalCents int64
	PaidCents  int64
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: total %d cents, paid %d cents", e.TotalCents, e.PaidCents)
}

// ErrEmptyTransaction is returned by CompleteTransaction when the cart has
// no items.
var ErrEmptyTransaction = errors.New("transaction has no items")
