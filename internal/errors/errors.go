package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound       = errors.New("not found")
	ErrTimeout        = errors.New("timeout")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict")
	ErrUnreachable    = errors.New("host unreachable")
	ErrScanInProgress = errors.New("scan already in progress")
	ErrAlreadyRunning = errors.New("monitoring already running")
	ErrInternalError  = errors.New("internal error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeTransient covers a single failed probe: timeout, refused
	// connection, malformed response. Recorded into the sample, never fatal.
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeUnreachable means every probe path to a device failed.
	ErrorTypeUnreachable ErrorType = "unreachable"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeFatal       ErrorType = "fatal"
)

// MonitorError is a structured error for monitoring operations
type MonitorError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "poll_device", "scan_range")
	DeviceID  string // Device the operation targeted, if any
	IP        string // Target address if applicable
	Err       error  // Underlying error
	Timestamp time.Time
	Retryable bool
}

func (e *MonitorError) Error() string {
	switch {
	case e.DeviceID != "" && e.IP != "":
		return fmt.Sprintf("%s failed on %s (%s): %v", e.Op, e.DeviceID, e.IP, e.Err)
	case e.DeviceID != "":
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.DeviceID, e.Err)
	case e.IP != "":
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.IP, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *MonitorError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *MonitorError) Is(target error) bool {
	if target == nil {
		return false
	}

	// Check base error types
	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	case ErrConflict:
		return e.Type == ErrorTypeConflict
	case ErrUnreachable:
		return e.Type == ErrorTypeUnreachable
	case ErrTimeout:
		return e.Type == ErrorTypeTransient && errors.Is(e.Err, ErrTimeout)
	}

	// Check wrapped error
	return errors.Is(e.Err, target)
}

// NewMonitorError creates a new MonitorError
func NewMonitorError(errorType ErrorType, op string, err error) *MonitorError {
	return &MonitorError{
		Type:      errorType,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

// WithDevice adds device information to the error
func (e *MonitorError) WithDevice(deviceID string) *MonitorError {
	e.DeviceID = deviceID
	return e
}

// WithIP adds the target address to the error
func (e *MonitorError) WithIP(ip string) *MonitorError {
	e.IP = ip
	return e
}

// isRetryable determines if an error should be retried
func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransient, ErrorTypeUnreachable:
		return true
	default:
		return false
	}
}

// Helper constructors

// WrapTransient wraps a single probe failure with context
func WrapTransient(op, ip string, err error) error {
	return NewMonitorError(ErrorTypeTransient, op, err).WithIP(ip)
}

// WrapUnreachable wraps an all-probes-failed error with context
func WrapUnreachable(op, deviceID, ip string, err error) error {
	return NewMonitorError(ErrorTypeUnreachable, op, err).WithDevice(deviceID).WithIP(ip)
}

// WrapValidation wraps a bad-input error with context
func WrapValidation(op string, err error) error {
	return NewMonitorError(ErrorTypeValidation, op, err)
}

// WrapConflict wraps a conflicting-operation error with context
func WrapConflict(op string, err error) error {
	return NewMonitorError(ErrorTypeConflict, op, err)
}

// WrapNotFound wraps a missing-entity error with context
func WrapNotFound(op, id string, err error) error {
	return NewMonitorError(ErrorTypeNotFound, op, err).WithDevice(id)
}

// WrapFatal wraps an irrecoverable error with context
func WrapFatal(op string, err error) error {
	return NewMonitorError(ErrorTypeFatal, op, err)
}

// TypeOf extracts the error category, defaulting to fatal for untyped errors
func TypeOf(err error) ErrorType {
	var monErr *MonitorError
	if errors.As(err, &monErr) {
		return monErr.Type
	}
	return ErrorTypeFatal
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var monErr *MonitorError
	if errors.As(err, &monErr) {
		return monErr.Retryable
	}

	// Check for wrapped standard errors
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable)
}

// IsNotFound checks if an error reports a missing device or alert
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error reports a rejected concurrent operation
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrScanInProgress) ||
		errors.Is(err, ErrAlreadyRunning)
}

// IsValidation checks if an error reports rejected input
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
