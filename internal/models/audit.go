package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionLoginFailed      = "LOGIN_FAILED"
	AuditActionLogout           = "LOGOUT"
	AuditActionRegister         = "REGISTER"
	AuditActionTokenRefresh     = "TOKEN_REFRESH"
	AuditActionLockoutTriggered = "LOCKOUT_TRIGGERED"
	AuditActionBlockTriggered   = "BLOCK_TRIGGERED"
	AuditActionPasswordChange   = "PASSWORD_CHANGE"
	AuditActionPasswordForgot   = "PASSWORD_FORGOT"
	AuditActionPasswordReset    = "PASSWORD_RESET"
	AuditActionUserUpdate       = "USER_UPDATE"
	AuditActionUserLock         = "USER_LOCK"
	AuditActionUserUnlock       = "USER_UNLOCK"
	AuditActionUserDelete       = "USER_DELETE"
	AuditActionUserRestore      = "USER_RESTORE"
	AuditActionUserHardDelete   = "USER_HARD_DELETE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RequestMeta carries caller details recorded with audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}
