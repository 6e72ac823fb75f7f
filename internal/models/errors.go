package models

import "errors"

// ErrorKind groups domain errors for callers that map them to transport codes.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindExhausted  ErrorKind = "exhausted"
	KindForbidden  ErrorKind = "forbidden"
	KindInternal   ErrorKind = "internal"
)

// Error is a typed domain failure. Compare with errors.Is against the sentinels below.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidInput    = newError(KindValidation, "invalid_input", "invalid input")
	ErrInvalidQuantity = newError(KindValidation, "invalid_quantity", "quantity must be positive")
	ErrInvalidAmount   = newError(KindValidation, "invalid_amount", "amount must be positive")
	ErrNotFound        = newError(KindNotFound, "not_found", "not found")

	ErrInvalidTransition          = newError(KindConflict, "invalid_transition", "invalid status transition")
	ErrOtpRequired                = newError(KindValidation, "otp_required", "delivery otp required")
	ErrOtpMismatch                = newError(KindConflict, "otp_mismatch", "delivery otp does not match")
	ErrActorNotPermitted          = newError(KindForbidden, "actor_not_permitted", "actor may not perform this transition")
	ErrNotCancelable              = newError(KindConflict, "not_cancelable", "item can no longer be cancelled")
	ErrProductNotReturnable       = newError(KindConflict, "product_not_returnable", "product is not returnable")
	ErrReturnAlreadyRequested     = newError(KindConflict, "return_already_requested", "an active return already exists for this item")
	ErrInvalidItemStatus          = newError(KindConflict, "invalid_item_status", "order item is not eligible for return")
	ErrWithdrawalAlreadyProcessed = newError(KindConflict, "withdrawal_already_processed", "withdrawal request already processed")

	ErrInsufficientStock           = newError(KindExhausted, "insufficient_stock", "insufficient stock")
	ErrInsufficientFunds           = newError(KindExhausted, "insufficient_funds", "insufficient wallet balance")
	ErrPromoCodeUsageLimitExceeded = newError(KindExhausted, "promo_usage_limit_exceeded", "promo code usage limit reached")
	ErrPromoCodeUserLimitExceeded  = newError(KindExhausted, "promo_user_limit_exceeded", "promo code per-user limit reached")

	ErrInvalidPromoCode         = newError(KindValidation, "invalid_promo_code", "invalid promo code")
	ErrPromoCodeExpired         = newError(KindValidation, "promo_code_expired", "promo code has expired")
	ErrPromoCodeNotYetActive    = newError(KindValidation, "promo_code_not_yet_active", "promo code is not active yet")
	ErrMinimumOrderAmountNotMet = newError(KindValidation, "minimum_order_amount_not_met", "order total below promo minimum")
)

// KindOf classifies err; unknown errors are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine-readable code of a domain error, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
