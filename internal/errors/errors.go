package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the Korean OCR worker
 *
 * Every failure surfaced by the pipeline carries a stable code so callers
 * can branch on failure class without string matching.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorInvalidImage ErrorCode = "INVALID_IMAGE"

	// Engine errors
	ErrorEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"

	// Pipeline errors
	ErrorPipelineFailure   ErrorCode = "PIPELINE_FAILURE"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"

	// Configuration errors
	ErrorConfiguration ErrorCode = "CONFIGURATION"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// PipelineError represents a structured processing error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewInvalidImageError(reason string) *PipelineError {
	return &PipelineError{
		Code:      ErrorInvalidImage,
		Message:   fmt.Sprintf("invalid image: %s", reason),
		Timestamp: time.Now(),
	}
}

func NewEngineUnavailableError(engine string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorEngineUnavailable,
		Message:   fmt.Sprintf("engine unavailable: %s", engine),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewConfigurationError(field string, reason string) *PipelineError {
	return &PipelineError{
		Code:      ErrorConfiguration,
		Message:   fmt.Sprintf("invalid configuration %s: %s", field, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

func NewPipelineFailure(jobID string, reason string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorPipelineFailure,
		Message:   reason,
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorStorageFailed,
		Message:   "failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// HasCode reports whether err (or anything it wraps) is a PipelineError with
// the given code.
func HasCode(err error, code ErrorCode) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsInvalidImage reports whether err is an unrecoverable input error.
func IsInvalidImage(err error) bool {
	return HasCode(err, ErrorInvalidImage)
}

// IsConfiguration reports whether err is a configuration-load failure.
func IsConfiguration(err error) bool {
	return HasCode(err, ErrorConfiguration)
}

// ToMap converts error to map for database storage
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
