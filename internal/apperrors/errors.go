package apperrors

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorCodeInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError   ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrorCodePlayerNotFound    ErrorCode = "PLAYER_NOT_FOUND"
	ErrorCodeCommandUnknown    ErrorCode = "COMMAND_UNKNOWN"
	ErrorCodeDeviceTimeout     ErrorCode = "DEVICE_TIMEOUT"
	ErrorCodeDeviceUnreachable ErrorCode = "DEVICE_UNREACHABLE"
	ErrorCodeDeviceRejected    ErrorCode = "DEVICE_REJECTED"
	ErrorCodeVerifyFailed      ErrorCode = "DEVICE_VERIFICATION_FAILED"
	ErrorCodeTopology          ErrorCode = "TOPOLOGY_INCONSISTENT"
)

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

// ErrorBody is the serialized error payload.
type ErrorBody struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (err *AppError) ErrorBody() ErrorBody {
	return ErrorBody{Code: err.Code, Message: err.Message, Details: err.Details}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode, Details: details}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrorCodeUnauthorized, message, 401, nil)
}

func NewNotFoundError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeNotFound, message, 404, details)
}

func NewPlayerNotFoundError(nameOrID string) *AppError {
	return NewAppError(ErrorCodePlayerNotFound, "player not found: "+nameOrID, 404,
		map[string]any{"player": nameOrID})
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil)
}

func NewCommandUnknownError(command string) *AppError {
	return NewAppError(ErrorCodeCommandUnknown, "unknown command: "+command, 400,
		map[string]any{"command": command})
}

func NewDeviceUnreachableError(message string) *AppError {
	return NewAppError(ErrorCodeDeviceUnreachable, message, 502, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error")
}

// =============================================================================
// Engine error taxonomy
// =============================================================================

// ProgrammerError marks a violated precondition or assertion. The retry
// machinery never retries one of these; it propagates immediately so the
// bug surfaces during development.
type ProgrammerError struct {
	Message string
}

func (e *ProgrammerError) Error() string {
	return "programmer error: " + e.Message
}

// Assert returns a ProgrammerError when cond is false.
func Assert(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return &ProgrammerError{Message: fmt.Sprintf(format, args...)}
}

// IsProgrammer reports whether err is (or wraps) a ProgrammerError.
func IsProgrammer(err error) bool {
	var pe *ProgrammerError
	return errors.As(err, &pe)
}

// VerifyError indicates the device accepted a call but never reached the
// expected state within the deadline. Distinct from a transport failure
// and never silently treated as success.
type VerifyError struct {
	Condition string
	Attempts  int
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification failed after %d polls: awaiting %s", e.Attempts, e.Condition)
}

// IsVerify reports whether err is (or wraps) a VerifyError.
func IsVerify(err error) bool {
	var ve *VerifyError
	return errors.As(err, &ve)
}
