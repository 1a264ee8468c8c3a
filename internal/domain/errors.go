package domain

import (
	"errors"
	"fmt"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Error codes surfaced to callers.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeRateLimited         = "RATE_LIMITED"
	CodeAlreadyOwned        = "ALREADY_OWNED"
	CodeAlreadyInCart       = "ALREADY_IN_CART"
	CodeTrackUnavailable    = "TRACK_UNAVAILABLE"
	CodeEmptyCart           = "EMPTY_CART"
	CodePaymentNotCompleted = "PAYMENT_NOT_COMPLETED"
	CodeAmountMismatch      = "AMOUNT_MISMATCH"
	CodeGatewayUnavailable  = "GATEWAY_UNAVAILABLE"
	CodeStorage             = "STORAGE_ERROR"
	CodeOwnershipRequired   = "OWNERSHIP_REQUIRED"
	CodeInternal            = "INTERNAL_ERROR"
)

// ErrDuplicatePurchase is returned by stores when a purchase with the same
// payment provider id has already been committed.
var ErrDuplicatePurchase = errors.New("purchase already recorded for payment provider id")

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429}
}

// Conflict errors: rejected with no mutation, safe to show to the user.

func ErrAlreadyOwned(trackID string) *AppError {
	return &AppError{Code: CodeAlreadyOwned, Message: fmt.Sprintf("track %s is already owned", trackID), Status: 409}
}

func ErrAlreadyInCart(trackID string) *AppError {
	return &AppError{Code: CodeAlreadyInCart, Message: fmt.Sprintf("track %s is already in cart", trackID), Status: 409}
}

func ErrTrackUnavailable(trackID string) *AppError {
	return &AppError{Code: CodeTrackUnavailable, Message: fmt.Sprintf("track %s is not available", trackID), Status: 404}
}

// Precondition errors: terminal for the current attempt.

func ErrEmptyCart() *AppError {
	return &AppError{Code: CodeEmptyCart, Message: "cart is empty", Status: 400}
}

func ErrPaymentNotCompleted(status PaymentIntentStatus) *AppError {
	return &AppError{Code: CodePaymentNotCompleted, Message: fmt.Sprintf("payment not completed (provider status %s)", status), Status: 402}
}

func ErrAmountMismatch(charged, required int64) *AppError {
	return &AppError{
		Code:    CodeAmountMismatch,
		Message: fmt.Sprintf("provider charged %d minor units, cart requires %d", charged, required),
		Status:  409,
	}
}

func ErrOwnershipRequired(trackID string) *AppError {
	return &AppError{Code: CodeOwnershipRequired, Message: fmt.Sprintf("purchase required to stream track %s", trackID), Status: 403}
}

// Transient errors: safe to retry.

func ErrGatewayUnavailable(cause error) *AppError {
	return &AppError{Code: CodeGatewayUnavailable, Message: "payment provider unavailable", Status: 503, Cause: cause}
}

func ErrStorage(msg string, cause error) *AppError {
	return &AppError{Code: CodeStorage, Message: msg, Status: 503, Cause: cause}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether the caller may retry the operation with the same inputs.
func IsRetryable(err error) bool {
	return HasCode(err, CodeGatewayUnavailable) || HasCode(err, CodeStorage)
}
