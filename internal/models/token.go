package models

import "time"

// Refresh token revocation reasons.
const (
	RevokeReasonRefreshed       = "Refreshed"
	RevokeReasonUser            = "User revoke"
	RevokeReasonPasswordReset   = "PasswordReset"
	RevokeReasonPasswordChanged = "PasswordChanged"
	RevokeReasonSingleSession   = "SingleSession"
	RevokeReasonUserDeleted     = "UserDeleted"
)

// RefreshToken represents a persisted refresh token session. Token is a bearer
// secret and is never serialised.
type RefreshToken struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	Token         string     `db:"token" json:"-"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	RevokedReason *string    `db:"revoked_reason" json:"revoked_reason,omitempty"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress     string     `db:"ip_address" json:"ip_address"`
	UserAgent     string     `db:"user_agent" json:"user_agent"`
}

// Revoked reports whether the token has been revoked.
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// ActiveAt reports whether the token can still be redeemed at the given instant.
func (t *RefreshToken) ActiveAt(now time.Time) bool {
	return t != nil && !t.Revoked() && now.Before(t.ExpiresAt)
}
