package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// RegisterRequest creates a new account and signs it in.
type RegisterRequest struct {
	Email       string  `json:"email" validate:"required,email"`
	Password    string  `json:"password" validate:"required,min=8"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=256"`
	IP          string  `json:"-"`
	UserAgent   string  `json:"-"`
}

// RefreshTokenRequest exchanges a refresh token for a new token pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RevokeRequest invalidates a single refresh token.
type RevokeRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// ForgotPasswordRequest payload for initiating the recovery flow.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
	IP    string `json:"-"`
}

// ResetPasswordRequest completes the recovery flow.
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
	IP          string `json:"-"`
}

// AuthResponse returns the issued tokens and user info.
type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         UserInfo  `json:"user"`
	Roles        []string  `json:"roles"`
	Permissions  []string  `json:"permissions"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	DisplayName *string `json:"display_name,omitempty"`
}

// AccessClaims represents the JWT payload for access tokens.
type AccessClaims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry the named role.
func (c *AccessClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// LoginOutcome is the closed set of login results. Only the variants declared
// in this file implement it.
type LoginOutcome interface {
	loginOutcome()
}

// LoginSucceeded carries the issued token pair.
type LoginSucceeded struct {
	Response AuthResponse
}

// LoginBlocked means the brute-force guard vetoed the attempt before any
// credential was checked.
type LoginBlocked struct {
	RetryAfter time.Duration
}

// LoginLocked means the account lockout is running, either from before the
// attempt or triggered by it.
type LoginLocked struct {
	LockoutEnd     time.Time
	NewlyTriggered bool
}

// LoginRejected is the uniform outcome for an unknown email or a wrong password.
type LoginRejected struct{}

func (LoginSucceeded) loginOutcome() {}
func (LoginBlocked) loginOutcome()   {}
func (LoginLocked) loginOutcome()    {}
func (LoginRejected) loginOutcome()  {}
