package sale

import (
	"errors"
	"fmt"

	"tillbook/backend/internal/money"
)

var (
	ErrEmptyCart            = errors.New("cart has no items")
	ErrNoPayment            = errors.New("sale has no payments")
	ErrInvalidQuantity      = errors.New("quantity must be greater than zero")
	ErrInvalidPrice         = errors.New("unit price must be greater than zero")
	ErrInvalidAmount        = errors.New("payment amount must be greater than zero")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrProductNotFound      = errors.New("product not found")
	ErrInsufficientPayment  = errors.New("insufficient payment")

	// ErrAmountOutOfRange marks quantities or amounts whose cents overflow int64.
	ErrAmountOutOfRange = money.ErrAmountOutOfRange
)

type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error {
	return ErrProductNotFound
}

type InsufficientPaymentError struct {
	PaidCents  int64
	TotalCents int64
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: paid %d, total %d", e.PaidCents, e.TotalCents)
}

func (e *InsufficientPaymentError) Unwrap() error {
	return ErrInsufficientPayment
}

var validationErrors = []error{
	ErrEmptyCart,
	ErrNoPayment,
	ErrInvalidQuantity,
	ErrInvalidPrice,
	ErrInvalidAmount,
	ErrUnknownPaymentMethod,
	ErrProductNotFound,
	ErrInsufficientPayment,
	ErrAmountOutOfRange,
}

// IsValidation reports whether err is a caller mistake rejected before any write.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Reason returns a short metric-friendly label for a validation error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrNoPayment):
		return "no_payment"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrUnknownPaymentMethod):
		return "unknown_payment_method"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrAmountOutOfRange):
		return "amount_out_of_range"
	default:
		return "other"
	}
}
