package errors

import (
	"fmt"
	"time"
)

type ErrorCode string

const (
	ErrCodeInputInvalid         ErrorCode = "INPUT_INVALID"
	ErrCodeAgentFault           ErrorCode = "AGENT_FAULT"
	ErrCodeExtractionDegraded   ErrorCode = "EXTRACTION_DEGRADED"
	ErrCodeGuardrailBlock       ErrorCode = "GUARDRAIL_BLOCK"
	ErrCodeNoResults            ErrorCode = "NO_RESULTS"
	ErrCodeGenerationFailed     ErrorCode = "GENERATION_FAILED"
	ErrCodeGenerationTimeout    ErrorCode = "GENERATION_TIMEOUT"
	ErrCodeQueryExecutionFailed ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout         ErrorCode = "QUERY_TIMEOUT"
	ErrCodeRuleLoadFailed       ErrorCode = "RULE_LOAD_FAILED"
)

// StandardError is the structured error carried across component boundaries.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func New(code ErrorCode, message string) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryable(code),
		Timestamp: time.Now().UTC(),
	}
}

func Wrap(code ErrorCode, message string, cause error) *StandardError {
	e := New(code, message)
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// IsRetryable reports whether an error code represents a transient condition.
// Guardrail blocks, invalid input and empty result sets are final.
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeGenerationTimeout, ErrCodeQueryTimeout, ErrCodeQueryExecutionFailed, ErrCodeRuleLoadFailed:
		return true
	default:
		return false
	}
}

// CodeOf extracts the ErrorCode from an error, or AGENT_FAULT when the
// error is not a StandardError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if se, ok := err.(*StandardError); ok {
		return se.Code
	}
	return ErrCodeAgentFault
}
