package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-auth-session/middleware/jwtware"
)

const (
	tokenTypeAccess              = "access"
	tokenTypePendingRegistration = "pending_registration"

	pendingAudienceSuffix = ":registration"
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	AID  int64  `json:"aid"`
	PID  string `json:"pid"`
	Name string `json:"usr"`
	Type string `json:"typ"`
}

var _ jwtware.AccessClaims = (*AccessClaims)(nil)

// Subject returns the subject claim, which is the account public id
func (c *AccessClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// AccountID returns the internal account id
func (c *AccessClaims) AccountID() int64 {
	return c.AID
}

// PublicID returns the external facing account id
func (c *AccessClaims) PublicID() string {
	if c.PID != "" {
		return c.PID
	}
	return c.Subject()
}

// Username returns the username at issue time
func (c *AccessClaims) Username() string {
	return c.Name
}

// Expires returns the expiration time in UTC
func (c *AccessClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

// IssuedAt returns when the token was issued, in UTC
func (c *AccessClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time.UTC()
}

// PendingRegistrationClaims is the payload of a pending registration token.
// It proves that an external identity finished sign in without a local
// account.
type PendingRegistrationClaims struct {
	jwt.RegisteredClaims
	Provider  string `json:"prv"`
	SubjectID string `json:"psub"`
	Email     string `json:"email"`
	Type      string `json:"typ"`
}

// TokenID returns the jti used to mark the token as spent.
func (c *PendingRegistrationClaims) TokenID() string {
	return c.ID
}

// Expires returns the expiration time in UTC
func (c *PendingRegistrationClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

// Identity returns the external identity carried by the token.
func (c *PendingRegistrationClaims) Identity() ExternalIdentity {
	return ExternalIdentity{
		Provider:  c.Provider,
		SubjectID: c.SubjectID,
		Email:     c.Email,
	}
}
