package service

import (
	"time"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/pkg/config"
)

// AccountLockPolicy decides per-account lockouts from the failure counter kept
// on the user row. It only mutates the struct; callers persist it.
type AccountLockPolicy struct {
	threshold int
	duration  time.Duration
}

// NewAccountLockPolicy builds the policy, defaulting to 5 failures and 15 minutes.
func NewAccountLockPolicy(cfg config.LockoutConfig) *AccountLockPolicy {
	return &AccountLockPolicy{
		threshold: positiveOr(cfg.Threshold, 5),
		duration:  durationOr(cfg.Duration, 15*time.Minute),
	}
}

// Duration is the length of a triggered lockout.
func (p *AccountLockPolicy) Duration() time.Duration {
	return p.duration
}

// IsLocked reports whether the user is locked out at now.
func (p *AccountLockPolicy) IsLocked(user *models.User, now time.Time) bool {
	return user.LockedAt(now)
}

// RegisterFailure counts a wrong password and reports whether it locked the
// account. Reaching the threshold sets LockoutEnd and zeroes the counter.
func (p *AccountLockPolicy) RegisterFailure(user *models.User, now time.Time) bool {
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts < p.threshold {
		return false
	}
	end := now.Add(p.duration)
	user.LockoutEnd = &end
	user.FailedLoginAttempts = 0
	return true
}

// Reset clears the counter and lockout. It reports whether anything changed.
func (p *AccountLockPolicy) Reset(user *models.User) bool {
	if user.FailedLoginAttempts == 0 && user.LockoutEnd == nil {
		return false
	}
	user.FailedLoginAttempts = 0
	user.LockoutEnd = nil
	return true
}
