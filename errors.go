package auth

import (
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	TextCodeUnauthorized       = "session_unauthorized"
	TextCodeTokenExpired       = "session_token_expired"
	TextCodeTokenMalformed     = "session_token_malformed"
	TextCodeTokenInvalid       = "session_token_invalid"
	TextCodeUsernameTaken      = "session_username_taken"
	TextCodeEmailTaken         = "session_email_taken"
	TextCodeIdentityTaken      = "session_identity_taken"
	TextCodeAccountNotFound    = "session_account_not_found"
	TextCodeInvalidIdentity    = "session_invalid_identity"
	TextCodeRefreshInvalid     = "session_refresh_invalid"
	TextCodeRefreshReused      = "session_refresh_reused"
	TextCodeSigningMisconfig   = "session_signing_misconfigured"
	TextCodeInternal           = "session_internal"
	TextCodeRegistrationFailed = "session_registration_failed"
	TextCodeInvalidRequest     = "session_invalid_request"
)

// ErrUnauthorized is returned when a credential cannot be used. Callers
// should ask the client to authenticate again.
var ErrUnauthorized = errors.New("authentication required", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned for signed tokens past their expiry.
var ErrTokenExpired = errors.New("token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned when a token cannot be parsed.
var ErrTokenMalformed = errors.New("token malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrTokenInvalid is returned for well formed tokens that fail signature,
// audience, issuer or type checks.
var ErrTokenInvalid = errors.New("token invalid", errors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrUsernameTaken is returned when the requested username belongs to
// another account.
var ErrUsernameTaken = errors.New("username already taken", errors.CategoryConflict).
	WithTextCode(TextCodeUsernameTaken).
	WithCode(errors.CodeConflict)

// ErrEmailTaken is returned when the email is already bound to an account.
var ErrEmailTaken = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(errors.CodeConflict)

// ErrIdentityTaken is returned when the external identity already has an
// account.
var ErrIdentityTaken = errors.New("external identity already registered", errors.CategoryConflict).
	WithTextCode(TextCodeIdentityTaken).
	WithCode(errors.CodeConflict)

// ErrAccountNotFound is returned when an account resolved from a session no
// longer exists.
var ErrAccountNotFound = errors.New("account not found", errors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidIdentity is returned when a callback carries an incomplete
// identity.
var ErrInvalidIdentity = errors.New("incomplete external identity", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidIdentity).
	WithCode(errors.CodeBadRequest)

// ErrInvalidRequestBody is returned when a request body cannot be decoded.
var ErrInvalidRequestBody = errors.New("invalid request body", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidRequest).
	WithCode(errors.CodeBadRequest)

// ErrRefreshTokenInvalid is returned by the store when a refresh token is
// unknown, revoked or expired.
var ErrRefreshTokenInvalid = errors.New("refresh token invalid", errors.CategoryAuth).
	WithTextCode(TextCodeRefreshInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrRefreshTokenReused is returned when a rotated refresh token is
// presented again.
var ErrRefreshTokenReused = errors.New("refresh token reused", errors.CategoryAuth).
	WithTextCode(TextCodeRefreshReused).
	WithCode(errors.CodeUnauthorized)

// ErrSigningMisconfigured is returned when a signing secret is missing or
// too short.
var ErrSigningMisconfigured = errors.New("token signing misconfigured", errors.CategoryInternal).
	WithTextCode(TextCodeSigningMisconfig).
	WithCode(errors.CodeInternal)

// IsUnauthorized reports whether err should be answered with a request to
// authenticate again.
func IsUnauthorized(err error) bool {
	return errors.IsCategory(err, errors.CategoryAuth)
}

// IsConflict reports whether err is a uniqueness collision.
func IsConflict(err error) bool {
	return errors.IsCategory(err, errors.CategoryConflict)
}

// IsAccountNotFound reports whether err means the account is gone.
func IsAccountNotFound(err error) bool {
	return errors.IsCategory(err, errors.CategoryNotFound)
}

// HasTextCode reports whether err is a rich error carrying code.
func HasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return HasTextCode(err, TextCodeTokenExpired) || strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return HasTextCode(err, TextCodeTokenMalformed) ||
		strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// uniqueViolation inspects a storage error and returns the offending
// column when err is a unique constraint failure.
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}

	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") {
		return msg, true
	}

	return "", false
}

// isUniqueViolation reports whether err is any unique constraint failure.
func isUniqueViolation(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}
