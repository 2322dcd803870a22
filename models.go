package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RevokeReason records why a refresh token stopped being valid
type RevokeReason = string

const (
	// RevokeLogout the user signed out on this device
	RevokeLogout RevokeReason = "logout"
	// RevokeRotated the token was exchanged for a new one
	RevokeRotated RevokeReason = "rotated"
	// RevokeAll the user signed out everywhere
	RevokeAll RevokeReason = "revoke_all"
	// RevokeReuseDetected a rotated token was presented again
	RevokeReuseDetected RevokeReason = "reuse_detected"
	// RevokeAccountMissing the owning account no longer exists
	RevokeAccountMissing RevokeReason = "account_missing"
)

// Account is the local account bound to one external identity
type Account struct {
	bun.BaseModel     `bun:"table:accounts,alias:acc"`
	ID                int64      `bun:"id,pk,autoincrement" json:"-"`
	PublicID          uuid.UUID  `bun:"public_id,notnull,unique,type:uuid" json:"id"`
	Provider          string     `bun:"provider,notnull" json:"provider"`
	ProviderSubjectID string     `bun:"provider_subject_id,notnull" json:"-"`
	Email             string     `bun:"email,notnull,unique" json:"email"`
	Username          string     `bun:"username,notnull" json:"username"`
	Bio               *string    `bun:"bio" json:"bio"`
	Image             *string    `bun:"image" json:"image"`
	CreatedAt         *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// RefreshToken is the persisted record of an opaque refresh token. Only
// the hash of the raw value is stored.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rt"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	AccountID     int64      `bun:"account_id,notnull" json:"-"`
	TokenHash     string     `bun:"token_hash,notnull,unique" json:"-"`
	FamilyID      uuid.UUID  `bun:"family_id,notnull,type:uuid" json:"family_id"`
	ParentID      *uuid.UUID `bun:"parent_id,type:uuid" json:"parent_id,omitempty"`
	IssuedAt      time.Time  `bun:"issued_at,notnull" json:"issued_at"`
	LastUsedAt    time.Time  `bun:"last_used_at,notnull" json:"last_used_at"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	RevokedReason string     `bun:"revoked_reason,nullzero" json:"revoked_reason,omitempty"`
	UserAgent     string     `bun:"user_agent,nullzero" json:"user_agent,omitempty"`
	IPAddress     string     `bun:"ip_address,nullzero" json:"ip_address,omitempty"`
}

// IsRevoked reports whether the token was revoked for any reason
func (r *RefreshToken) IsRevoked() bool {
	return r.RevokedAt != nil
}

// WasRotated reports whether the token was replaced by a newer one
func (r *RefreshToken) WasRotated() bool {
	return r.IsRevoked() && r.RevokedReason == RevokeRotated
}

// IsActive applies the absolute and idle expiry policy at now. A zero idle
// window disables the idle check.
func (r *RefreshToken) IsActive(now time.Time, idle time.Duration) bool {
	if r == nil || r.IsRevoked() {
		return false
	}
	if !now.Before(r.ExpiresAt) {
		return false
	}
	if idle > 0 && !now.Before(r.LastUsedAt.Add(idle)) {
		return false
	}
	return true
}

// ConsumedRegistration marks a pending registration token as spent
type ConsumedRegistration struct {
	bun.BaseModel `bun:"table:consumed_registrations,alias:cr"`
	JTI           string    `bun:"jti,pk" json:"jti"`
	AccountID     int64     `bun:"account_id,notnull" json:"-"`
	ConsumedAt    time.Time `bun:"consumed_at,notnull" json:"consumed_at"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
}

// NormalizeEmail trims and lower cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims a username. Case is preserved for display and
// uniqueness is checked case insensitively.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}
