package models

import "fmt"

// ErrorCode classifies a fetch/extraction failure into the fixed taxonomy
// the orchestrator and pipeline reason about.
type ErrorCode string

const (
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeAuthRequired     ErrorCode = "AUTH_REQUIRED"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrCodeBlocked          ErrorCode = "BLOCKED"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
	ErrCodeServerError      ErrorCode = "SERVER_ERROR"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnsupported      ErrorCode = "UNSUPPORTED"
	ErrCodeUnknown          ErrorCode = "UNKNOWN"
)

// ErrorDetail is the structured error surfaced in API responses.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorEnvelope is the response body for failures that happen before a
// request reaches any endpoint-specific handler (auth, rate limiting) and
// so can't be shaped like that endpoint's own response type.
type ErrorEnvelope struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// FetchError is the internal tagged-variant error type carrying a taxonomy
// code. It implements the error interface and supports wrapping via Unwrap.
type FetchError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(code ErrorCode, message string, err error) *FetchError {
	return &FetchError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *FetchError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the ErrorCode carried by err if it is (or wraps) a
// *FetchError, otherwise ErrCodeUnknown.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if fe, ok := err.(*FetchError); ok {
			return fe.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ErrCodeUnknown
}
