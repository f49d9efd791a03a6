package bridge

import (
	"fmt"
	"strings"
)

// ErrorCode is a JSON-RPC error code surfaced to the client.
type ErrorCode int

const (
	// ErrAuthRequired indicates authentication is required for the requested operation.
	ErrAuthRequired ErrorCode = -32000

	ErrInvalidParams ErrorCode = -32602
	ErrInternal      ErrorCode = -32603
)

// RequestError carries a JSON-RPC error code across the agent boundary.
type RequestError struct {
	Code    ErrorCode
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// NewAuthRequiredError builds the error clients interpret as "run authentication".
func NewAuthRequiredError(msg string) *RequestError {
	if msg == "" {
		msg = "authentication required"
	}
	return &RequestError{Code: ErrAuthRequired, Message: msg}
}

// IsAuthError reports whether err is the auth-required error.
func IsAuthError(err error) bool {
	re, ok := err.(*RequestError)
	return ok && re.Code == ErrAuthRequired
}

// authSignatures are substrings of engine failure output that indicate a
// credential problem rather than an ordinary execution error.
var authSignatures = []string{
	"invalid api key",
	"oauth token has expired",
	"oauth token expired",
	"please run /login",
	"authentication_error",
	"401",
}

// isAuthFailureText reports whether engine failure output matches a known
// credential-failure signature.
func isAuthFailureText(text string) bool {
	lower := strings.ToLower(text)
	for _, sig := range authSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
