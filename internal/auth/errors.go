package auth

import "net/http"

// Error is an expected authentication outcome carrying its HTTP status
// and a machine-readable code. Anything that is not one of these
// surfaces as ErrInternal; clients never see raw error text.
type Error struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"error"`
	// RequiresMFA is surfaced in the login response body so the client
	// knows to prompt for a code instead of re-asking for a password.
	RequiresMFA bool `json:"requiresMfa,omitempty"`
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidCredentials = &Error{
		Code: "invalid_credentials", Status: http.StatusUnauthorized,
		Message: "Invalid credentials",
	}
	ErrLockedOut = &Error{
		Code: "locked_out", Status: http.StatusTooManyRequests,
		Message: "Too many failed attempts. Please try again in 15 minutes.",
	}
	ErrIPBanned = &Error{
		Code: "ip_banned", Status: http.StatusForbidden,
		Message: "Too many failed attempts. Your IP has been blocked.",
	}
	ErrMFARequired = &Error{
		Code: "mfa_required", Status: http.StatusUnauthorized,
		Message: "Authentication code required", RequiresMFA: true,
	}
	ErrMFAInvalid = &Error{
		Code: "mfa_invalid", Status: http.StatusUnauthorized,
		Message: "Invalid authentication code", RequiresMFA: true,
	}
	ErrMFALockedOut = &Error{
		Code: "mfa_locked_out", Status: http.StatusTooManyRequests,
		Message: "Too many MFA attempts. Please try again in a few minutes.", RequiresMFA: true,
	}
	ErrSessionExpired = &Error{
		Code: "session_expired", Status: http.StatusUnauthorized,
		Message: "Session expired or invalid",
	}
	ErrSessionIPMismatch = &Error{
		Code: "session_ip_mismatch", Status: http.StatusUnauthorized,
		Message: "Session invalid",
	}
	ErrCSRFMismatch = &Error{
		Code: "csrf_mismatch", Status: http.StatusForbidden,
		Message: "Invalid CSRF token",
	}
	ErrInsufficientRole = &Error{
		Code: "insufficient_role", Status: http.StatusForbidden,
		Message: "Insufficient permissions",
	}
	ErrInternal = &Error{
		Code: "internal_failure", Status: http.StatusInternalServerError,
		Message: "Authentication failed",
	}
)

// BadRequest builds a 400 with a request-specific message.
func BadRequest(msg string) *Error {
	return &Error{Code: "bad_request", Status: http.StatusBadRequest, Message: msg}
}

// NotFound builds a 404 with a request-specific message.
func NotFound(msg string) *Error {
	return &Error{Code: "not_found", Status: http.StatusNotFound, Message: msg}
}
