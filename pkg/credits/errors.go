package credits

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the credits service.
var (
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrUnknownOrder             = errors.New("unknown order")
	ErrOrderClosed              = errors.New("order closed")
	ErrDuplicatePurchase        = errors.New("duplicate purchase for order")
	ErrUnknownApplication       = errors.New("unknown application")
	ErrAlreadyRefunded          = errors.New("application already refunded")
	ErrNotEligible              = errors.New("application not eligible for refund")
	ErrNotApplicationOwner      = errors.New("application belongs to another user")
	ErrUnknownProject           = errors.New("unknown project")
	ErrUnknownUser              = errors.New("unknown user")
	ErrUnknownPackage           = errors.New("unknown package")
	ErrNegativeBalance          = errors.New("adjustment would drive balance negative")
	ErrInvalidGatewayProof      = errors.New("invalid gateway proof")
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrInvalidOrderID           = errors.New("invalid order id")
	ErrInvalidApplicationID     = errors.New("invalid application id")
	ErrInvalidProjectID         = errors.New("invalid project id")
	ErrInvalidPackageID         = errors.New("invalid package id")
	ErrInvalidCreditAmount      = errors.New("invalid credit amount")
	ErrInvalidAdjustmentReason  = errors.New("invalid adjustment reason")
	ErrInvalidAdjustmentDelta   = errors.New("invalid adjustment delta")
	ErrInvalidTransactionKind   = errors.New("invalid transaction kind")
	ErrInvalidOrderStatus       = errors.New("invalid order status")
	ErrInvalidApplicationStatus = errors.New("invalid application status")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
