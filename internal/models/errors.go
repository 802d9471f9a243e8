package models

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/milopalmaerts/Crypto/pkg/logger"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	// Authentication errors
	ErrorCodeMissingToken       ErrorCode = "MISSING_TOKEN"
	ErrorCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrorCodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"

	// Inbound rate limiting
	ErrorCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Upstream gateway errors
	ErrorCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorCodeCooldownActive  ErrorCode = "COOLDOWN_ACTIVE"
	ErrorCodeUpstreamFailure ErrorCode = "UPSTREAM_FAILURE"

	// Validation errors
	ErrorCodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrorCodeMalformedJSON   ErrorCode = "MALFORMED_JSON"
	ErrorCodeUserExists      ErrorCode = "USER_EXISTS"
	ErrorCodeRequestTooLarge ErrorCode = "REQUEST_TOO_LARGE"

	// Lookup errors
	ErrorCodeHoldingNotFound ErrorCode = "HOLDING_NOT_FOUND"

	// Internal errors
	ErrorCodeServerBusy    ErrorCode = "SERVER_BUSY"
	ErrorCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorDetail represents detailed error information
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// ErrorResponse represents the standardized error response format
type ErrorResponse struct {
	Error         ErrorDetail `json:"error"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// HTTPStatusCode returns the appropriate HTTP status code for each error type
func (e ErrorCode) HTTPStatusCode() int {
	switch e {
	case ErrorCodeMissingToken, ErrorCodeInvalidCredentials:
		return http.StatusUnauthorized
	case ErrorCodeInvalidToken:
		return http.StatusForbidden
	case ErrorCodeRateLimitExceeded, ErrorCodeRateLimited, ErrorCodeCooldownActive:
		return http.StatusTooManyRequests
	case ErrorCodeInvalidRequest, ErrorCodeMalformedJSON, ErrorCodeUserExists:
		return http.StatusBadRequest
	case ErrorCodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorCodeHoldingNotFound:
		return http.StatusNotFound
	case ErrorCodeServerBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse creates a new error response with timestamp
func NewErrorResponse(code ErrorCode, message, details, correlationID string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// AppError represents an application error with context
type AppError struct {
	Code       ErrorCode
	Message    string
	Details    string
	Cause      error
	Context    map[string]interface{}
	StatusCode int
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
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

// WithRetryAfter sets the Retry-After hint sent with 429 responses
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: code.HTTPStatusCode(),
		Context:    make(map[string]interface{}),
	}
}

// NewAppErrorWithCause creates a new application error with underlying cause
func NewAppErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	appErr := NewAppError(code, message)
	appErr.Cause = cause
	return appErr
}

// NewAppErrorWithDetails creates a new application error with details
func NewAppErrorWithDetails(code ErrorCode, message, details string) *AppError {
	appErr := NewAppError(code, message)
	appErr.Details = details
	return appErr
}

// HandleError logs err and writes the JSON error envelope
func HandleError(c *gin.Context, err error, log *logger.Logger) {
	ctx := c.Request.Context()

	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = NewAppErrorWithCause(ErrorCodeInternalError, "Internal server error", err)
	}

	appErr.WithContext("method", c.Request.Method).
		WithContext("path", c.Request.URL.Path).
		WithContext("client_ip", c.ClientIP())

	if log == nil {
		log = logger.GetLogger()
	}
	fields := []zap.Field{
		zap.String("error_code", string(appErr.Code)),
		zap.String("error_message", appErr.Message),
	}
	contextLogger := log.WithContext(ctx).WithFields(appErr.Context)
	if appErr.Cause != nil {
		contextLogger = contextLogger.WithError(appErr.Cause)
	}
	if appErr.StatusCode >= 500 {
		contextLogger.Error("Application error", fields...)
	} else {
		contextLogger.Warn("Client error", fields...)
	}

	if appErr.RetryAfter > 0 {
		seconds := int(math.Ceil(appErr.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
	}

	correlationID := logger.GetCorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = c.GetString(string(logger.CorrelationIDKey))
	}

	c.AbortWithStatusJSON(appErr.StatusCode, NewErrorResponse(
		appErr.Code,
		appErr.Message,
		appErr.Details,
		correlationID,
	))
}

// Common error constructors for specific scenarios

// NewValidationError creates a validation error
func NewValidationError(message, details string) *AppError {
	return NewAppErrorWithDetails(ErrorCodeInvalidRequest, message, details)
}

// NewMalformedJSONError wraps a request body decoding failure
func NewMalformedJSONError(cause error) *AppError {
	appErr := NewAppErrorWithCause(ErrorCodeMalformedJSON, "Request body is not valid JSON", cause)
	appErr.Details = cause.Error()
	return appErr
}

// NewRateLimitError creates an inbound rate limit error
func NewRateLimitError(details string, retryAfter time.Duration) *AppError {
	return NewAppErrorWithDetails(ErrorCodeRateLimitExceeded, "Too many requests. Rate limit exceeded.", details).
		WithRetryAfter(retryAfter)
}

// NewDatabaseError creates a database error
func NewDatabaseError(message string, cause error) *AppError {
	return NewAppErrorWithCause(ErrorCodeDatabaseError, message, cause)
}
