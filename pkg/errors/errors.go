package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies application errors.
type ErrorCode string

const (
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeUserNotFound        ErrorCode = "USER_NOT_FOUND"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeAlreadyExists       ErrorCode = "ALREADY_EXISTS"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	CodeUpstreamProtocol    ErrorCode = "UPSTREAM_PROTOCOL"
	CodeUpstreamStatus      ErrorCode = "UPSTREAM_STATUS"
	CodeCommitFailed        ErrorCode = "COMMIT_FAILED"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a code, a human message and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	// StatusCode holds the upstream HTTP status for CodeUpstreamStatus.
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to the response status used by the HTTP layer.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUserNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeUpstreamUnavailable, CodeUpstreamProtocol, CodeUpstreamStatus:
		return http.StatusBadGateway
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

func NewRateLimitedError(message string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message}
}

func NewUserNotFoundError(message string) *AppError {
	return &AppError{Code: CodeUserNotFound, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewAlreadyExistsError(message string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Message: message}
}

func NewUpstreamUnavailableError(cause error) *AppError {
	return &AppError{Code: CodeUpstreamUnavailable, Message: "upstream model unreachable", Err: cause}
}

func NewUpstreamTimeoutError(message string) *AppError {
	return &AppError{Code: CodeUpstreamTimeout, Message: message}
}

func NewUpstreamProtocolError(message string, cause error) *AppError {
	return &AppError{Code: CodeUpstreamProtocol, Message: message, Err: cause}
}

func NewUpstreamStatusError(status int, body string) *AppError {
	return &AppError{
		Code:       CodeUpstreamStatus,
		Message:    fmt.Sprintf("upstream returned %d: %s", status, body),
		StatusCode: status,
	}
}

func NewCommitFailedError(cause error) *AppError {
	return &AppError{Code: CodeCommitFailed, Message: "side-effect commit failed", Err: cause}
}

func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

func is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsInvalidInput(err error) bool { return is(err, CodeInvalidInput) }
func IsUnauthorized(err error) bool { return is(err, CodeUnauthorized) }
func IsRateLimited(err error) bool  { return is(err, CodeRateLimited) }
func IsNotFound(err error) bool     { return is(err, CodeNotFound) || is(err, CodeUserNotFound) }

// IsUpstream reports whether the error originated at the upstream model.
func IsUpstream(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeUpstreamUnavailable, CodeUpstreamTimeout, CodeUpstreamProtocol, CodeUpstreamStatus:
			return true
		}
	}
	return false
}

// From extracts an *AppError from err, wrapping unknown errors as Internal.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return &AppError{Code: CodeInternal, Message: "internal error", Err: err}
}
