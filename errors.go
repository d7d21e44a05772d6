package authx

import (
	"errors"
	"fmt"
)

// ErrorCode represents session and API error categories.
type ErrorCode string

const (
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	ErrCodeInvalidMagicLink   ErrorCode = "invalid_magic_link"
	ErrCodeNetwork            ErrorCode = "network_error"
	ErrCodeTokenExpired       ErrorCode = "token_expired"
	ErrCodeRefreshFailed      ErrorCode = "refresh_failed"
	ErrCodeUnauthenticated    ErrorCode = "unauthenticated"
	ErrCodeInvalidToken       ErrorCode = "invalid_token"
	ErrCodeInvalidRequest     ErrorCode = "invalid_request"
	ErrCodeNotFound           ErrorCode = "not_found"
	ErrCodeServer             ErrorCode = "server_error"
	ErrCodeInternal           ErrorCode = "internal_error"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeInvalidCredentials: "Invalid email or password",
	ErrCodeInvalidMagicLink:   "Invalid or expired link",
	ErrCodeNetwork:            "Unable to reach the server",
	ErrCodeTokenExpired:       "Session expired",
	ErrCodeRefreshFailed:      "Session refresh failed",
	ErrCodeUnauthenticated:    "Not signed in",
	ErrCodeInvalidToken:       "Invalid token",
	ErrCodeInvalidRequest:     "Invalid request",
	ErrCodeNotFound:           "Not found",
	ErrCodeServer:             "Server error",
	ErrCodeInternal:           "Internal error",
}

// Error wraps session errors with a stable code and a human-readable message.
// Message carries the server's explanation when the response provided one.
type Error struct {
	Code    ErrorCode
	Message string
	Status  int
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is an *Error carrying code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

func newError(code ErrorCode, err error) error {
	return &Error{Code: code, Message: defaultMessage(code), Err: err}
}

func newStatusError(code ErrorCode, status int, message string) error {
	if message == "" {
		message = defaultMessage(code)
	}
	return &Error{Code: code, Message: message, Status: status}
}

func defaultMessage(code ErrorCode) string {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return msg
}
