package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/pkg/config"
)

func TestAccountLockPolicyLocksAtThreshold(t *testing.T) {
	policy := NewAccountLockPolicy(config.LockoutConfig{})
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	user := &models.User{}

	for i := 0; i < 4; i++ {
		assert.False(t, policy.RegisterFailure(user, now))
	}
	assert.Equal(t, 4, user.FailedLoginAttempts)
	assert.False(t, policy.IsLocked(user, now))

	assert.True(t, policy.RegisterFailure(user, now))
	assert.Equal(t, 0, user.FailedLoginAttempts)
	assert.Equal(t, now.Add(15*time.Minute), *user.LockoutEnd)
	assert.True(t, policy.IsLocked(user, now.Add(14*time.Minute)))
	assert.False(t, policy.IsLocked(user, now.Add(15*time.Minute)))
}

func TestAccountLockPolicyReset(t *testing.T) {
	policy := NewAccountLockPolicy(config.LockoutConfig{Threshold: 3, Duration: time.Minute})
	end := time.Now().Add(time.Minute)

	user := &models.User{FailedLoginAttempts: 2, LockoutEnd: &end}
	assert.True(t, policy.Reset(user))
	assert.Zero(t, user.FailedLoginAttempts)
	assert.Nil(t, user.LockoutEnd)
	assert.False(t, policy.Reset(user), "nothing left to clear")
}
