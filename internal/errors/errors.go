package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory defines the type of error for proper handling
type ErrorCategory string

const (
	CategoryValidation        ErrorCategory = "validation"
	CategoryAuthorization     ErrorCategory = "authorization"
	CategoryNotReady          ErrorCategory = "not_ready"
	CategoryConflict          ErrorCategory = "conflict"
	CategoryLedger            ErrorCategory = "ledger"
	CategoryDataInconsistency ErrorCategory = "data_inconsistency"
	CategoryNetwork           ErrorCategory = "network"
	CategoryTimeout           ErrorCategory = "timeout"
	CategoryRateLimit         ErrorCategory = "rate_limit"
	CategoryInternal          ErrorCategory = "internal"
	CategoryExternalAPI       ErrorCategory = "external_api"
	CategoryConfiguration     ErrorCategory = "configuration"
)

// LedgerKind narrows a ledger failure
type LedgerKind string

const (
	LedgerNetwork           LedgerKind = "network"
	LedgerTimeout           LedgerKind = "timeout"
	LedgerInsufficientFunds LedgerKind = "insufficient_funds"
	LedgerReverted          LedgerKind = "reverted"
)

// AppError wraps errbuilder error with the category and HTTP mapping used by handlers
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory     `json:"category"`
	HTTPStatus int               `json:"http_status"`
	Timestamp  time.Time         `json:"timestamp"`
	RequestID  string            `json:"request_id,omitempty"`
	StackTrace string            `json:"stack_trace,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.code(), e.ErrBuilder.Msg)
}

func (e *AppError) code() string {
	codeStr := "UNKNOWN_ERROR"
	switch e.Category {
	case CategoryValidation:
		codeStr = "VALIDATION_ERROR"
	case CategoryAuthorization:
		codeStr = "AUTHORIZATION_ERROR"
	case CategoryNotReady:
		codeStr = "NOT_READY"
	case CategoryConflict:
		codeStr = "CONFLICT"
	case CategoryLedger:
		codeStr = "LEDGER_ERROR"
	case CategoryDataInconsistency:
		codeStr = "DATA_INCONSISTENCY"
	case CategoryNetwork:
		codeStr = "NETWORK_ERROR"
	case CategoryTimeout:
		codeStr = "TIMEOUT_ERROR"
	case CategoryRateLimit:
		codeStr = "RATE_LIMIT_EXCEEDED"
	case CategoryInternal:
		codeStr = "INTERNAL_ERROR"
	case CategoryExternalAPI:
		codeStr = "EXTERNAL_API_ERROR"
	case CategoryConfiguration:
		codeStr = "CONFIGURATION_ERROR"
	}

	return codeStr
}

// MarshalJSON renders the client-facing error body; causes and stack traces stay in the logs
func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error      string            `json:"error"`
		Code       string            `json:"code"`
		Category   ErrorCategory     `json:"category"`
		HTTPStatus int               `json:"http_status"`
		Timestamp  time.Time         `json:"timestamp"`
		RequestID  string            `json:"request_id,omitempty"`
		Meta       map[string]string `json:"meta,omitempty"`
	}{
		Error:      e.ErrBuilder.Msg,
		Code:       e.code(),
		Category:   e.Category,
		HTTPStatus: e.HTTPStatus,
		Timestamp:  e.Timestamp,
		RequestID:  e.RequestID,
		Meta:       e.Meta,
	})
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// Detail returns a single metadata value by key, or "" when absent
func (e *AppError) Detail(key string) string {
	if e == nil || e.Meta == nil {
		return ""
	}
	return e.Meta[key]
}

func (e *AppError) withMeta(kv map[string]string) *AppError {
	e.Meta = kv
	return e
}

// NewAppError creates an AppError from errbuilder with additional context
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

func errorMapOf(kv map[string]string) errbuilder.ErrorMap {
	errorMap := errbuilder.ErrorMap{}
	for k, v := range kv {
		errorMap.Set(k, errors.New(v))
	}
	return errorMap
}

// NewValidationError creates a validation error using errbuilder
func NewValidationError(message string, details ...interface{}) *AppError {
	detailStr := ""
	if len(details) > 0 {
		detailStr = fmt.Sprintf("%v", details[0])
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	if detailStr != "" {
		builder = builder.WithDetails(errbuilder.NewErrDetails(errorMapOf(map[string]string{"validation_details": detailStr})))
	}

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewAuthorizationError reports a credential/identity mismatch or a missing permission
func NewAuthorizationError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodePermissionDenied).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryAuthorization, http.StatusForbidden)
}

// NewNotReadyError reports that settlement was requested before every rater voted
func NewNotReadyError(total, voted int) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(fmt.Sprintf("Voting incomplete: %d of %d raters have voted", voted, total)).
		WithDetails(errbuilder.NewErrDetails(errorMapOf(map[string]string{
			"total": strconv.Itoa(total),
			"voted": strconv.Itoa(voted),
		})))

	return NewAppError(builder, CategoryNotReady, http.StatusConflict).withMeta(map[string]string{
		"total": strconv.Itoa(total),
		"voted": strconv.Itoa(voted),
	})
}

// NewConflictError reports a state conflict such as a second open round
func NewConflictError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeAborted).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryConflict, http.StatusConflict)
}

// NewLedgerError reports a failed ledger operation
func NewLedgerError(kind LedgerKind, operation string, cause error) *AppError {
	code := errbuilder.CodeUnavailable
	switch kind {
	case LedgerTimeout:
		code = errbuilder.CodeDeadlineExceeded
	case LedgerInsufficientFunds:
		code = errbuilder.CodeResourceExhausted
	case LedgerReverted:
		code = errbuilder.CodeFailedPrecondition
	}

	builder := errbuilder.New().
		WithCode(code).
		WithMsg(fmt.Sprintf("Ledger %s failed: %s", operation, kind)).
		WithDetails(errbuilder.NewErrDetails(errorMapOf(map[string]string{
			"ledger_kind": string(kind),
			"operation":   operation,
		})))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryLedger, http.StatusBadGateway).withMeta(map[string]string{
		"ledger_kind": string(kind),
		"operation":   operation,
	})
}

// NewDataInconsistencyError reports ledger data that cannot be mapped back to local members
func NewDataInconsistencyError(message string, details map[string]string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeDataLoss).
		WithMsg(message)

	if len(details) > 0 {
		builder = builder.WithDetails(errbuilder.NewErrDetails(errorMapOf(details)))
	}

	return NewAppError(builder, CategoryDataInconsistency, http.StatusUnprocessableEntity).withMeta(details)
}

// NewNetworkError creates a network error using errbuilder
func NewNetworkError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryNetwork, http.StatusBadGateway)
}

// NewTimeoutError creates a timeout error using errbuilder
func NewTimeoutError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryTimeout, http.StatusGatewayTimeout)
}

// NewRateLimitError creates a rate limit error using errbuilder
func NewRateLimitError(retryAfter string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeResourceExhausted).
		WithMsg("Rate limit exceeded").
		WithDetails(errbuilder.NewErrDetails(errorMapOf(map[string]string{"retry_after": retryAfter})))

	return NewAppError(builder, CategoryRateLimit, http.StatusTooManyRequests).withMeta(map[string]string{"retry_after": retryAfter})
}

// NewExternalAPIError creates an external API error using errbuilder
func NewExternalAPIError(apiName string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(fmt.Sprintf("%s API error", apiName)).
		WithDetails(errbuilder.NewErrDetails(errorMapOf(map[string]string{"api_name": apiName})))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryExternalAPI, http.StatusBadGateway)
}

// NewInternalError creates an internal server error using errbuilder
func NewInternalError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("Internal server error").
		WithDetails(errbuilder.NewErrDetails(errorMapOf(map[string]string{"internal_details": message})))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	appErr := NewAppError(builder, CategoryInternal, http.StatusInternalServerError)

	if gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode {
		appErr.StackTrace = captureStackTrace()
	}

	return appErr
}

// NewConfigurationError creates a configuration error using errbuilder
func NewConfigurationError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("Configuration error").
		WithDetails(errbuilder.NewErrDetails(errorMapOf(map[string]string{"config_details": message})))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryConfiguration, http.StatusInternalServerError)
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// IsCategory reports whether err is an AppError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Category == category
	}
	return false
}

// ErrorHandler is a Gin middleware that provides centralized error handling
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err

			appErr := ToAppError(err)
			appErr.RequestID = c.GetHeader("X-Request-ID")

			LogError(c, appErr)

			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses
func RecoveryHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err interface{}) {
		appErr := NewInternalError(
			fmt.Sprintf("Panic recovered: %v", err),
			fmt.Errorf("%v", err),
		)

		appErr.StackTrace = captureStackTrace()

		LogError(c, appErr)
		c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
	})
}

// ToAppError converts any error to an AppError
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	if errors.Is(err, context.Canceled) {
		return NewTimeoutError("Request cancelled", err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("Request deadline exceeded", err)
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "network is unreachable") {
		return NewNetworkError("Network connection failed", err)
	}

	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") {
		return NewTimeoutError("Request timeout", err)
	}

	return NewInternalError("An unexpected error occurred", err)
}

// LogError logs an error with appropriate level and context
func LogError(c *gin.Context, err *AppError) {
	errorMsg := err.ErrBuilder.Msg
	errorDetails := err.ErrBuilder.Details

	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"ip", c.ClientIP(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", c.GetHeader("X-Request-ID"),
	)

	switch err.Category {
	case CategoryValidation, CategoryRateLimit, CategoryNotReady, CategoryConflict, CategoryAuthorization:
		if len(errorDetails.Errors) > 0 {
			logEntry.Warn(errorMsg, "details", errorDetails.Errors)
		} else {
			logEntry.Warn(errorMsg)
		}
	case CategoryNetwork, CategoryTimeout, CategoryExternalAPI, CategoryLedger:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Info(errorMsg, "cause", cause)
		} else {
			logEntry.Info(errorMsg)
		}
	default:
		if cause := err.ErrBuilder.Unwrap(); cause != nil {
			logEntry.Error(errorMsg, "cause", cause)
		} else {
			logEntry.Error(errorMsg)
		}
	}

	if err.StackTrace != "" && (gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode) {
		logEntry.Debug("stack_trace", "trace", err.StackTrace)
	}
}

// LogDetached logs an error raised outside a request, such as a dropped vote inside a batch
func LogDetached(logger *slog.Logger, err *AppError) {
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
	}
	for k, v := range err.Meta {
		attrs = append(attrs, k, v)
	}

	switch err.Category {
	case CategoryInternal, CategoryDataInconsistency:
		logger.Error(err.ErrBuilder.Msg, attrs...)
	default:
		logger.Warn(err.ErrBuilder.Msg, attrs...)
	}
}

// IsRetryableError checks if an error should trigger a retry
func IsRetryableError(err error) bool {
	appErr := ToAppError(err)
	if appErr == nil {
		return false
	}

	switch appErr.Category {
	case CategoryNetwork, CategoryTimeout, CategoryExternalAPI, CategoryRateLimit:
		return true
	case CategoryLedger:
		kind := LedgerKind(appErr.Detail("ledger_kind"))
		return kind == LedgerNetwork || kind == LedgerTimeout
	default:
		return false
	}
}

// SafeClose safely closes a resource and logs any errors
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource",
			"resource", resourceName,
			"error", err)
	}
}

// NewValidationErrorWithMap creates a validation error using ErrorMap for multiple validation issues
func NewValidationErrorWithMap(validationErrors map[string]string) *AppError {
	errMap := errbuilder.ErrorMap{}

	for field, message := range validationErrors {
		errMap.Set(field, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(message))
	}

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg("Multiple validation errors").
		WithDetails(errbuilder.NewErrDetails(errMap))

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest).withMeta(validationErrors)
}
