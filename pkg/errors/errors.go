package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode is the machine-readable identifier of a failure.
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"

	// Login failures. Form/choice/selector codes mean the console markup no
	// longer matches the selector contract.
	ErrCodeLoginFormNotFound          ErrorCode = "LOGIN_FORM_NOT_FOUND"
	ErrCodeLoginChoiceNotFound        ErrorCode = "LOGIN_CHOICE_NOT_FOUND"
	ErrCodeLoginSelectorMismatch      ErrorCode = "LOGIN_SELECTOR_MISMATCH"
	ErrCodeLoginCredentialsRejected   ErrorCode = "LOGIN_CREDENTIALS_REJECTED"
	ErrCodeLoginDestinationNotReached ErrorCode = "LOGIN_DESTINATION_NOT_REACHED"
	ErrCodeLoginSecondAuthFailed      ErrorCode = "LOGIN_SECOND_AUTH_FAILED"

	ErrCodeScrapeMarkupMismatch ErrorCode = "SCRAPE_MARKUP_MISMATCH"
	ErrCodeParseFailed          ErrorCode = "PARSE_FAILED"

	ErrCodeSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrCodeSyncCooldown   ErrorCode = "SYNC_COOLDOWN"
	ErrCodeSyncTimeout    ErrorCode = "SYNC_TIMEOUT"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with additional context
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Retryable  bool                   `json:"retryable"`
	RetryAfter time.Duration          `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether the error is retryable
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// WithCause adds a cause error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails adds additional details
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithMetadata adds metadata
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithRetryAfter sets the minimum wait before the operation may be repeated.
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e.WithMetadata("retryAfterSeconds", RetryAfterSeconds(d))
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Timestamp:  time.Now(),
		HTTPStatus: getHTTPStatusForCode(code),
		Retryable:  isRetryableCode(code),
	}
}

// Newf is NewAppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return NewAppError(code, fmt.Sprintf(format, args...))
}

func getHTTPStatusForCode(code ErrorCode) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeLoginCredentialsRejected:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeSyncInProgress:
		return http.StatusConflict
	case ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeSyncCooldown:
		return http.StatusTooManyRequests
	case ErrCodeLoginFormNotFound, ErrCodeLoginChoiceNotFound, ErrCodeLoginSelectorMismatch, ErrCodeScrapeMarkupMismatch:
		return http.StatusBadGateway
	case ErrCodeLoginDestinationNotReached, ErrCodeLoginSecondAuthFailed, ErrCodeSyncTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func isRetryableCode(code ErrorCode) bool {
	switch code {
	case ErrCodeSyncCooldown, ErrCodeSyncInProgress, ErrCodeSyncTimeout,
		ErrCodeLoginDestinationNotReached, ErrCodeLoginSecondAuthFailed, ErrCodeInternal:
		return true
	default:
		return false
	}
}

// WrapError wraps an existing error with additional context. An empty code
// keeps the code of a wrapped AppError.
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil && code == "" {
		code = appErr.Code
	}
	if code == "" {
		code = ErrCodeInternal
	}

	return &AppError{
		Code:       code,
		Message:    message,
		Cause:      err,
		Timestamp:  time.Now(),
		HTTPStatus: getHTTPStatusForCode(code),
		Retryable:  isRetryableCode(code),
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError extracts the outermost AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// RetryAfterSeconds rounds d up to whole seconds, minimum one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ErrorResponse represents an HTTP error response
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToErrorResponse converts an AppError to an ErrorResponse
func (e *AppError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error:     "error",
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		Timestamp: e.Timestamp,
		Metadata:  e.Metadata,
	}
}

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	*AppError
	Fields []FieldError `json:"fields"`
}

// FieldError represents an error for a specific field
type FieldError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// NewValidationError creates a new validation error
func NewValidationError(message string, fields ...FieldError) *ValidationError {
	return &ValidationError{
		AppError: NewAppError(ErrCodeValidation, message),
		Fields:   fields,
	}
}

// Unwrap exposes the embedded AppError so errors.As finds it.
func (ve *ValidationError) Unwrap() error {
	return ve.AppError
}

// AddField adds a field error to the validation error
func (ve *ValidationError) AddField(field, message string, value interface{}) *ValidationError {
	ve.Fields = append(ve.Fields, FieldError{
		Field:   field,
		Message: message,
		Value:   value,
	})
	return ve
}

// HasFields returns true if the validation error has field errors
func (ve *ValidationError) HasFields() bool {
	return len(ve.Fields) > 0
}
