package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeUnauthenticated  ErrorType = "unauthenticated"
	ErrorTypeRevoked          ErrorType = "revoked"
	ErrorTypeExpired          ErrorType = "expired"
	ErrorTypeAlreadyRotated   ErrorType = "already_rotated"
	ErrorTypeInvalidScope     ErrorType = "invalid_scope"
	ErrorTypeRateLimitRange   ErrorType = "rate_limit_out_of_range"
	ErrorTypeInvalidSignature ErrorType = "invalid_signature"
	ErrorTypePolicyDenied     ErrorType = "policy_denied"
	ErrorTypeDeliveryFailed   ErrorType = "delivery_failed"
	ErrorTypeConflict         ErrorType = "conflict"
	ErrorTypeInternal         ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrKeyNotFound       = NewDomainError(ErrorTypeNotFound, "api key not found", nil)
	ErrNamespaceNotFound = NewDomainError(ErrorTypeNotFound, "namespace not found", nil)
	ErrEventNotFound     = NewDomainError(ErrorTypeNotFound, "rotation event not found", nil)
	ErrPolicyNotFound    = NewDomainError(ErrorTypeNotFound, "rls policy not found", nil)

	// Validation Errors
	ErrInvalidInput         = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidExpression    = NewDomainError(ErrorTypeValidation, "invalid policy expression", nil)
	ErrInvalidNamespaceCode = NewDomainError(ErrorTypeValidation, "invalid namespace code", nil)
	ErrInvalidScope         = NewDomainError(ErrorTypeInvalidScope, "scope references an unknown namespace", nil)
	ErrRateLimitOutOfRange  = NewDomainError(ErrorTypeRateLimitRange, "rate limit must be a positive integer", nil)

	// Authentication Errors
	ErrUnauthenticated = NewDomainError(ErrorTypeUnauthenticated, "unknown or malformed api key", nil)
	ErrKeyRevoked      = NewDomainError(ErrorTypeRevoked, "api key has been revoked", nil)
	ErrKeyExpired      = NewDomainError(ErrorTypeExpired, "api key has expired", nil)

	// Rotation Errors
	ErrAlreadyRotated = NewDomainError(ErrorTypeAlreadyRotated, "api key was already rotated or revoked", nil)

	// Signature Errors
	ErrInvalidSignature = NewDomainError(ErrorTypeInvalidSignature, "payload signature does not verify", nil)

	// Policy Errors
	ErrPolicyDenied = NewDomainError(ErrorTypePolicyDenied, "row access denied by policy", nil)

	// Delivery Errors
	ErrDeliveryFailed = NewDomainError(ErrorTypeDeliveryFailed, "webhook delivery failed", nil)

	// Conflict Errors
	ErrDuplicateNamespace = NewDomainError(ErrorTypeConflict, "namespace code already exists", nil)
	ErrDuplicateDelivery  = NewDomainError(ErrorTypeConflict, "rotation event already delivered", nil)

	// Internal Errors
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError     = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsUnauthenticatedError checks if an error is an authentication failure
func IsUnauthenticatedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeUnauthenticated ||
			domainErr.Type == ErrorTypeRevoked ||
			domainErr.Type == ErrorTypeExpired
	}
	return false
}

// IsAlreadyRotatedError checks if an error reports a lost rotation race
func IsAlreadyRotatedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeAlreadyRotated
	}
	return false
}

// IsInvalidScopeError checks if an error reports a scope naming an unknown namespace
func IsInvalidScopeError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInvalidScope
	}
	return false
}

// IsInvalidSignatureError checks if an error reports a signature mismatch
func IsInvalidSignatureError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInvalidSignature
	}
	return false
}

// IsPolicyDeniedError checks if an error is a policy denial
func IsPolicyDeniedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypePolicyDenied
	}
	return false
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeConflict
	}
	return false
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
