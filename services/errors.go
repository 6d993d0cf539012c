package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound              ErrorType = "not_found"
	ErrorTypeValidation            ErrorType = "validation"
	ErrorTypeUnauthorized          ErrorType = "unauthorized"
	ErrorTypeForbidden             ErrorType = "forbidden"
	ErrorTypeAdmissionDenied       ErrorType = "admission_denied"
	ErrorTypeAllProvidersExhausted ErrorType = "all_providers_exhausted"
	ErrorTypeCostCeilingExceeded   ErrorType = "cost_ceiling_exceeded"
	ErrorTypeInternal              ErrorType = "internal"
	ErrorTypeExternal              ErrorType = "external"
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

// Is matches any DomainError of the same type
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

// Sentinels are compared by type only. Never call WithDetail on them; build a
// fresh error with NewDomainError instead.
var (
	ErrProviderNotConfigured = NewDomainError(ErrorTypeNotFound, "provider not configured", nil)

	ErrInvalidInput    = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrEmptyPrompt     = NewDomainError(ErrorTypeValidation, "prompt cannot be empty", nil)
	ErrInvalidStrategy = NewDomainError(ErrorTypeValidation, "invalid routing strategy", nil)

	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrForbidden    = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	// ErrAdmissionDenied means the quota would be exceeded by the prospective call.
	ErrAdmissionDenied = NewDomainError(ErrorTypeAdmissionDenied, "daily quota would be exceeded", nil)

	// ErrAllProvidersExhausted is terminal for one route call.
	ErrAllProvidersExhausted = NewDomainError(ErrorTypeAllProvidersExhausted, "all providers failed", nil)

	// ErrCostCeilingExceeded stays in effect until the cost tracker is reset.
	ErrCostCeilingExceeded = NewDomainError(ErrorTypeCostCeilingExceeded, "monthly spend ceiling exceeded", nil)

	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrProviderError = NewDomainError(ErrorTypeExternal, "LLM provider error", nil)
)

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsAdmissionDeniedError checks if an error is a quota admission denial
func IsAdmissionDeniedError(err error) bool {
	return GetErrorType(err) == ErrorTypeAdmissionDenied
}

// IsExhaustedError checks if every candidate provider failed
func IsExhaustedError(err error) bool {
	return GetErrorType(err) == ErrorTypeAllProvidersExhausted
}

// IsCostCeilingError checks if the monthly spend ceiling was hit
func IsCostCeilingError(err error) bool {
	return GetErrorType(err) == ErrorTypeCostCeilingExceeded
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
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

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external provider error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
