package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ServiceError represents a business logic error with a code
type ServiceError struct {
	Err     error
	Message string
	Code    string
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches any ServiceError carrying the same code, so callers can write
// errors.Is(err, service.ErrInsufficientFunds).
func (e *ServiceError) Is(target error) bool {
	var t *ServiceError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeInvalidAmount      = "invalid_amount"
	ErrCodeInsufficientFunds  = "insufficient_funds"
	ErrCodeAccountNotFound    = "account_not_found"
	ErrCodeRecipientNotFound  = "recipient_not_found"
	ErrCodeSelfTransfer       = "self_transfer"
	ErrCodePersistenceFailure = "persistence_failure"
	ErrCodeInvalidPage        = "invalid_page"
	ErrCodeInvalidInput       = "invalid_input"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeEmailTaken         = "email_taken"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeBusy               = "busy"
)

// Sentinels for errors.Is.
var (
	ErrInvalidAmount      = &ServiceError{Code: ErrCodeInvalidAmount, Message: "invalid amount"}
	ErrInsufficientFunds  = &ServiceError{Code: ErrCodeInsufficientFunds, Message: "insufficient funds"}
	ErrAccountNotFound    = &ServiceError{Code: ErrCodeAccountNotFound, Message: "account not found"}
	ErrRecipientNotFound  = &ServiceError{Code: ErrCodeRecipientNotFound, Message: "recipient not found"}
	ErrSelfTransfer       = &ServiceError{Code: ErrCodeSelfTransfer, Message: "cannot transfer to your own account"}
	ErrPersistenceFailure = &ServiceError{Code: ErrCodePersistenceFailure, Message: "persistence failure"}
	ErrInvalidPage        = &ServiceError{Code: ErrCodeInvalidPage, Message: "invalid page"}
	ErrInvalidInput       = &ServiceError{Code: ErrCodeInvalidInput, Message: "invalid input"}
	ErrInvalidCredentials = &ServiceError{Code: ErrCodeInvalidCredentials, Message: "invalid email or password"}
	ErrEmailTaken         = &ServiceError{Code: ErrCodeEmailTaken, Message: "email already registered"}
	ErrUnauthorized       = &ServiceError{Code: ErrCodeUnauthorized, Message: "unauthorized"}
	ErrBusy               = &ServiceError{Code: ErrCodeBusy, Message: "account is busy, please retry"}
)

func newError(code, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

func persistenceFailure(message string, err error) *ServiceError {
	return newError(ErrCodePersistenceFailure, message, err)
}

// ValidateAmount checks that amount is positive, has at most two decimal
// places and does not exceed max.
func ValidateAmount(amount, max decimal.Decimal) error {
	if !amount.IsPositive() {
		return newError(ErrCodeInvalidAmount, "amount must be greater than 0", nil)
	}
	// Truncate and GreaterThan rescale to a common exponent, so the exponent
	// and magnitude are bounded first.
	if amount.Exponent() < -maxAmountScale {
		return newError(ErrCodeInvalidAmount, "amount must have at most 2 decimal places", nil)
	}
	if intDigits(amount) > intDigits(max) {
		return newError(ErrCodeInvalidAmount, fmt.Sprintf("amount must not exceed %s", max.String()), nil)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return newError(ErrCodeInvalidAmount, "amount must have at most 2 decimal places", nil)
	}
	if amount.GreaterThan(max) {
		return newError(ErrCodeInvalidAmount, fmt.Sprintf("amount must not exceed %s", max.String()), nil)
	}
	return nil
}

// maxAmountScale bounds the fractional digits accepted before trailing
// zeros are stripped, e.g. "1.000".
const maxAmountScale = 18

// intDigits is the number of digits left of the decimal point, counting
// from the first significant one.
func intDigits(d decimal.Decimal) int64 {
	return int64(d.NumDigits()) + int64(d.Exponent())
}
