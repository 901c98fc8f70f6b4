package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"talkmix/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeNotRunning         ErrorCode = "NOT_RUNNING"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeEngineFailure      ErrorCode = "ENGINE_FAILURE"
	ErrCodeSinkFailure        ErrorCode = "SINK_FAILURE"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

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
	appErr := NewAppError(code, message, httpStatus)
	appErr.Cause = err
	return appErr
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
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

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

var domainErrors = []struct {
	target error
	code   ErrorCode
	status int
}{
	{domain.ErrStreamNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrSinkNotFound, ErrCodeNotFound, http.StatusNotFound},
	{domain.ErrStreamExists, ErrCodeConflict, http.StatusConflict},
	{domain.ErrAlreadyStarted, ErrCodeConflict, http.StatusConflict},
	{domain.ErrOutputInUse, ErrCodeConflict, http.StatusConflict},
	{domain.ErrNotRunning, ErrCodeNotRunning, http.StatusConflict},
	{domain.ErrInvalidParameters, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrInvalidCapacity, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrEngineFailure, ErrCodeEngineFailure, http.StatusServiceUnavailable},
	{domain.ErrSinkFailure, ErrCodeSinkFailure, http.StatusBadGateway},
}

// FromDomain maps a session error onto an AppError. Errors that already are
// AppErrors pass through; unknown errors become INTERNAL_ERROR.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}
	for _, d := range domainErrors {
		if stderrors.Is(err, d.target) {
			return WrapError(err, d.code, err.Error(), d.status)
		}
	}
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}
