package domain

import (
	"errors"
	"fmt"
	"time"
)

// ServiceError represents a standardized error response
type ServiceError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeNotFound          = "NOT_FOUND"
	CodeModelNotReady     = "MODEL_NOT_READY"
	CodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	CodeMalformedData     = "MALFORMED_DATA"
	CodeInternalServer    = "INTERNAL_SERVER_ERROR"
	CodeValidation        = "VALIDATION_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match validation failures as invalid arguments
func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// NewServiceError creates a new ServiceError with timestamp
func NewServiceError(code, message, details, requestID string) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ErrorCode maps an error onto its transport error code
func ErrorCode(err error) string {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		return CodeValidation
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrModelNotReady):
		return CodeModelNotReady
	case errors.Is(err, ErrSourceUnavailable):
		return CodeSourceUnavailable
	case errors.Is(err, ErrMalformedRecord), errors.Is(err, ErrEmptyCorpus), errors.Is(err, ErrCyclicGraph):
		return CodeMalformedData
	default:
		return CodeInternalServer
	}
}
