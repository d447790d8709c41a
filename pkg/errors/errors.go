package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"roomview/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeConnectionTimeout  ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeLinkFailure        ErrorCode = "LINK_FAILURE"
	ErrCodeCapabilityMismatch ErrorCode = "CAPABILITY_MISMATCH"
	ErrCodeSignalingRequest   ErrorCode = "SIGNALING_REQUEST_FAILED"
	ErrCodeConsumerCreation   ErrorCode = "CONSUMER_CREATION_FAILED"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// FromSessionError maps session errors onto application errors
func FromSessionError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrConnectionTimeout):
		return WrapError(err, ErrCodeConnectionTimeout, "signaling server did not answer in time", http.StatusGatewayTimeout)
	case stderrors.Is(err, domain.ErrLinkFailure), stderrors.Is(err, domain.ErrLinkClosed):
		return WrapError(err, ErrCodeLinkFailure, "signaling link failed", http.StatusBadGateway)
	case stderrors.Is(err, domain.ErrCapabilityMismatch):
		return WrapError(err, ErrCodeCapabilityMismatch, "media capabilities not supported", http.StatusUnprocessableEntity)
	case stderrors.Is(err, domain.ErrSignalingRequest):
		appErr := WrapError(err, ErrCodeSignalingRequest, "signaling request rejected", http.StatusBadGateway)
		var sigErr *domain.SignalingError
		if stderrors.As(err, &sigErr) {
			appErr.WithContext("method", sigErr.Method).WithContext("code", sigErr.Code)
		}
		return appErr
	case stderrors.Is(err, domain.ErrConsumerCreation):
		return WrapError(err, ErrCodeConsumerCreation, "consumer creation failed", http.StatusInternalServerError)
	case stderrors.Is(err, domain.ErrStartInProgress), stderrors.Is(err, domain.ErrSessionActive):
		return WrapError(err, ErrCodeConflict, err.Error(), http.StatusConflict)
	case stderrors.Is(err, domain.ErrInvalidRoom):
		return WrapError(err, ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	default:
		return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	// Try to unwrap
	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}

	return nil
}
