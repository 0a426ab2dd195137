package errors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeDecode     ErrorType = "decode"
	ErrorTypeContract   ErrorType = "contract"
	ErrorTypeShutdown   ErrorType = "shutdown"
	ErrorTypeRejected   ErrorType = "rejected"
	ErrorTypeGenerate   ErrorType = "generate"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
)

// RegionRef identifies the region an error is about.
type RegionRef struct {
	X, Y int32
}

// TesseraError is a structured error type with context.
type TesseraError struct {
	Type        ErrorType
	Code        string
	Message     string
	Op          string
	Cause       error
	Context     map[string]interface{}
	Region      *RegionRef
	Path        string
	Recoverable bool
}

// Error implements the error interface.
func (e *TesseraError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Op != "" {
		parts = append(parts, "op:"+e.Op)
	}

	if e.Region != nil {
		parts = append(parts, fmt.Sprintf("region:(%d,%d)", e.Region.X, e.Region.Y))
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *TesseraError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *TesseraError) Is(target error) bool {
	var t *TesseraError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *TesseraError) WithContext(key string, value interface{}) *TesseraError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithRegion attaches region coordinates.
func (e *TesseraError) WithRegion(x, y int32) *TesseraError {
	e.Region = &RegionRef{X: x, Y: y}

	return e
}

// WithOp records the operation kind (load, save, generate).
func (e *TesseraError) WithOp(op string) *TesseraError {
	e.Op = op

	return e
}

// WithPath records the file involved.
func (e *TesseraError) WithPath(path string) *TesseraError {
	e.Path = path

	return e
}

// Error creation functions

// NewIOError creates an I/O error. I/O failures on region files are
// transient: the permit is cleared and the operation may be retried.
func NewIOError(code, message string, cause error) *TesseraError {
	return &TesseraError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewDecodeError creates a structural decode error.
func NewDecodeError(code, message string, cause error) *TesseraError {
	return &TesseraError{
		Type:        ErrorTypeDecode,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewContractError creates a programming-contract violation error.
func NewContractError(code, message string) *TesseraError {
	return &TesseraError{
		Type:        ErrorTypeContract,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewShutdownError marks work skipped because shutdown is in progress.
func NewShutdownError(message string) *TesseraError {
	return &TesseraError{
		Type:        ErrorTypeShutdown,
		Code:        ErrCodeAborted,
		Message:     message,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *TesseraError {
	return &TesseraError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *TesseraError {
	return &TesseraError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *TesseraError {
	return &TesseraError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// IsShutdown checks if an error reports a shutdown abort.
func IsShutdown(err error) bool {
	var te *TesseraError
	if errors.As(err, &te) {
		return te.Type == ErrorTypeShutdown
	}

	return false
}

// IsDecode checks if an error is a structural decode failure.
func IsDecode(err error) bool {
	var te *TesseraError
	if errors.As(err, &te) {
		return te.Type == ErrorTypeDecode
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Debug(ctx context.Context, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at the level its type calls for. Shutdown aborts are
// expected and only reach the debug log.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var te *TesseraError
	if !errors.As(err, &te) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	details := GetErrorContext(err)
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]interface{}, 0, 2*len(keys))
	for _, k := range keys {
		fields = append(fields, k, details[k])
	}

	switch te.Type {
	case ErrorTypeShutdown:
		h.logger.Debug(ctx, "Operation aborted by shutdown", fields...)
	case ErrorTypeIO, ErrorTypeDecode, ErrorTypeRejected:
		h.logger.Warn(ctx, err, "Region operation failed", fields...)
	default:
		h.logger.Error(ctx, err, "Error occurred", fields...)
	}
}

// Common error codes.
const (
	ErrCodeReadFailed      = "ERR_READ_FAILED"
	ErrCodeWriteFailed     = "ERR_WRITE_FAILED"
	ErrCodeCorruptRegion   = "ERR_CORRUPT_REGION"
	ErrCodeGenerateFailed  = "ERR_GENERATE_FAILED"
	ErrCodeQueueFull       = "ERR_QUEUE_FULL"
	ErrCodePoolClosed      = "ERR_POOL_CLOSED"
	ErrCodeAborted         = "ERR_ABORTED"
	ErrCodeDoubleRelease   = "ERR_DOUBLE_RELEASE"
	ErrCodePermitMissing   = "ERR_PERMIT_MISSING"
	ErrCodeConfigInvalid   = "ERR_CONFIG_INVALID"
	ErrCodeRegistryInvalid = "ERR_REGISTRY_INVALID"
	ErrCodeInternalError   = "ERR_INTERNAL"
)
