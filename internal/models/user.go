package models

import "time"

// Built-in role names.
const (
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// User represents an application user stored in the users table. Lockout and
// recovery state live on the row so they survive restarts; Version guards
// read-modify-write cycles against lost updates.
type User struct {
	ID                  string     `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	PasswordSalt        string     `db:"password_salt" json:"-"`
	DisplayName         *string    `db:"display_name" json:"display_name,omitempty"`
	Active              bool       `db:"active" json:"active"`
	IsDeleted           bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt           *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"failed_login_attempts"`
	LockoutEnd          *time.Time `db:"lockout_end" json:"lockout_end,omitempty"`
	RecoveryToken       *string    `db:"recovery_token" json:"-"`
	RecoveryTokenExpiry *time.Time `db:"recovery_token_expiry" json:"-"`
	LastLogin           *time.Time `db:"last_login" json:"last_login,omitempty"`
	Version             int64      `db:"version" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// LockedAt reports whether the account lockout is still running at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u != nil && u.LockoutEnd != nil && now.Before(*u.LockoutEnd)
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Active         *bool
	IncludeDeleted bool
	Search         string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// UpdateUserRequest carries the admin-editable user fields.
type UpdateUserRequest struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=256"`
	Active      *bool   `json:"active"`
}

// LockUserRequest sets an administrative lockout. A nil Until means the
// default lockout duration from now.
type LockUserRequest struct {
	Until *time.Time `json:"until"`
}

// DeleteUserRequest confirms an irreversible hard delete.
type DeleteUserRequest struct {
	Confirm bool `form:"confirm" json:"confirm"`
}
