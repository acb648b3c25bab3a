package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/internal/repository"
	"github.com/noah-isme/identity-api/pkg/config"
)

func newTestGuard(t *testing.T, store blockStore) (*BruteForceGuard, *testClock, *fakeAuditSink) {
	t.Helper()
	if store == nil {
		store = repository.NewBlockMemoryRepository()
	}
	clock := newTestClock()
	audit := &fakeAuditSink{}
	guard := NewBruteForceGuard(store, config.GuardConfig{}, audit, NewMetricsService(), nil)
	guard.now = clock.Now
	return guard, clock, audit
}

func failFromIP(t *testing.T, guard *BruteForceGuard, ip string, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		require.NoError(t, guard.RecordFailedAttempt(context.Background(), ip, ""))
	}
}

func TestGuardBlocksIPAtThreshold(t *testing.T) {
	guard, _, audit := newTestGuard(t, nil)
	ctx := context.Background()

	failFromIP(t, guard, "10.0.0.1", 9)
	decision, err := guard.CheckBlocked(ctx, "10.0.0.1", "")
	require.NoError(t, err)
	assert.False(t, decision.Blocked)

	failFromIP(t, guard, "10.0.0.1", 1)
	decision, err = guard.CheckBlocked(ctx, "10.0.0.1", "")
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
	assert.Equal(t, 30*time.Minute, decision.RetryAfter)
	assert.Equal(t, int64(1800), decision.RetryAfterSeconds())
	assert.Equal(t, []string{"ip:10.0.0.1"}, audit.blocks)
}

func TestGuardIPKeysAreCaseInsensitive(t *testing.T) {
	guard, _, _ := newTestGuard(t, nil)

	failFromIP(t, guard, "FE80::1", 5)
	failFromIP(t, guard, " fe80::1 ", 5)

	decision, err := guard.CheckBlocked(context.Background(), "fe80::1", "")
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
}

func TestGuardWindowExpiryRestartsCount(t *testing.T) {
	guard, clock, _ := newTestGuard(t, nil)

	failFromIP(t, guard, "10.0.0.2", 9)
	clock.Advance(5*time.Minute + time.Second)
	failFromIP(t, guard, "10.0.0.2", 9)

	decision, err := guard.CheckBlocked(context.Background(), "10.0.0.2", "")
	require.NoError(t, err)
	assert.False(t, decision.Blocked)
}

func TestGuardIPEscalation(t *testing.T) {
	guard, clock, _ := newTestGuard(t, nil)
	ctx := context.Background()
	ip := "203.0.113.9"

	failFromIP(t, guard, ip, 10)
	first, err := guard.CheckBlocked(ctx, ip, "")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, first.RetryAfter)

	clock.Advance(31 * time.Minute)
	decision, err := guard.CheckBlocked(ctx, ip, "")
	require.NoError(t, err)
	assert.False(t, decision.Blocked)

	failFromIP(t, guard, ip, 10)
	second, err := guard.CheckBlocked(ctx, ip, "")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, second.RetryAfter)
	assert.Greater(t, second.RetryAfter, first.RetryAfter)

	clock.Advance(2*time.Hour + time.Minute)
	failFromIP(t, guard, ip, 10)
	third, err := guard.CheckBlocked(ctx, ip, "")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, third.RetryAfter)

	clock.Advance(24*time.Hour + time.Minute)
	failFromIP(t, guard, ip, 10)
	restarted, err := guard.CheckBlocked(ctx, ip, "")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, restarted.RetryAfter, "a block more than 24h after the previous one starts over")
}

func TestGuardEscalationCapsAtTopTier(t *testing.T) {
	clock := newTestClock()
	guard := NewBruteForceGuard(repository.NewBlockMemoryRepository(), config.GuardConfig{
		IPBanDurations: []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute},
	}, nil, nil, nil)
	guard.now = clock.Now
	ctx := context.Background()
	ip := "203.0.113.10"

	var bans []time.Duration
	for i := 0; i < 4; i++ {
		failFromIP(t, guard, ip, 10)
		decision, err := guard.CheckBlocked(ctx, ip, "")
		require.NoError(t, err)
		require.True(t, decision.Blocked)
		bans = append(bans, decision.RetryAfter)
		clock.Advance(decision.RetryAfter + time.Second)
	}

	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute, 3 * time.Minute}, bans)
}

func TestGuardFailuresDuringBanDoNotExtendIt(t *testing.T) {
	guard, clock, audit := newTestGuard(t, nil)
	ctx := context.Background()

	failFromIP(t, guard, "10.0.0.3", 10)
	clock.Advance(10 * time.Minute)
	failFromIP(t, guard, "10.0.0.3", 25)

	decision, err := guard.CheckBlocked(ctx, "10.0.0.3", "")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, decision.RetryAfter)
	assert.Len(t, audit.blocks, 1)
}

func TestGuardEmailDimensionsAreIndependent(t *testing.T) {
	guard, _, _ := newTestGuard(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ip := fmt.Sprintf("192.0.2.%d", i)
		require.NoError(t, guard.RecordFailedAttempt(ctx, ip, "Victim@Example.com"))
	}

	decision, err := guard.CheckBlocked(ctx, "198.51.100.1", "victim@example.com")
	require.NoError(t, err)
	assert.True(t, decision.Blocked, "email dimension trips across IPs")

	decision, err = guard.CheckBlocked(ctx, "192.0.2.0", "other@example.com")
	require.NoError(t, err)
	assert.False(t, decision.Blocked, "no IP or IP+email dimension tripped")

	for i := 0; i < 5; i++ {
		require.NoError(t, guard.RecordFailedAttempt(ctx, "198.51.100.7", fmt.Sprintf("user%d@example.com", i)))
	}
	decision, err = guard.CheckBlocked(ctx, "198.51.100.7", "")
	require.NoError(t, err)
	assert.False(t, decision.Blocked, "IP below its own threshold")
}

func TestGuardIPEmailPairBlocksOnlyThatPair(t *testing.T) {
	guard, _, audit := newTestGuard(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, guard.RecordFailedAttempt(ctx, "192.0.2.50", "pair@example.com"))
	}
	assert.ElementsMatch(t, []string{"email:pair@example.com", "ipemail:192.0.2.50|pair@example.com"}, audit.blocks)

	decision, err := guard.CheckBlocked(ctx, "192.0.2.50", "")
	require.NoError(t, err)
	assert.False(t, decision.Blocked, "IP dimension only saw five failures")
}

func TestGuardRetryAfterIsLongestBan(t *testing.T) {
	guard, clock, _ := newTestGuard(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, guard.RecordFailedAttempt(ctx, "", "long@example.com"))
	}
	clock.Advance(10 * time.Minute)
	failFromIP(t, guard, "192.0.2.77", 10)

	decision, err := guard.CheckBlocked(ctx, "192.0.2.77", "long@example.com")
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
	assert.Equal(t, 30*time.Minute, decision.RetryAfter)
}

func TestGuardResetAttemptsClearsAllDimensions(t *testing.T) {
	guard, _, _ := newTestGuard(t, nil)
	ctx := context.Background()
	ip, email := "192.0.2.80", "reset@example.com"

	for i := 0; i < 4; i++ {
		require.NoError(t, guard.RecordFailedAttempt(ctx, ip, email))
	}
	require.NoError(t, guard.ResetAttempts(ctx, ip, email))

	for i := 0; i < 4; i++ {
		require.NoError(t, guard.RecordFailedAttempt(ctx, ip, email))
	}
	decision, err := guard.CheckBlocked(ctx, ip, email)
	require.NoError(t, err)
	assert.False(t, decision.Blocked, "counting restarted from zero")
}

func TestGuardResetKeepsIPEscalationHistory(t *testing.T) {
	guard, clock, _ := newTestGuard(t, nil)
	ctx := context.Background()
	ip := "192.0.2.90"

	failFromIP(t, guard, ip, 10)
	clock.Advance(31 * time.Minute)
	require.NoError(t, guard.ResetAttempts(ctx, ip, "someone@example.com"))

	failFromIP(t, guard, ip, 10)
	decision, err := guard.CheckBlocked(ctx, ip, "")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, decision.RetryAfter)
}

func TestGuardExpiredEntriesArePurged(t *testing.T) {
	store := repository.NewBlockMemoryRepository()
	guard, clock, _ := newTestGuard(t, store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, guard.RecordFailedAttempt(ctx, "", "purge@example.com"))
	}
	clock.Advance(31 * time.Minute)
	_, err := guard.CheckBlocked(ctx, "", "purge@example.com")
	require.NoError(t, err)

	entry, err := store.Get(ctx, "email:purge@example.com")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestGuardConcurrentFailuresAreAllCounted(t *testing.T) {
	guard, _, audit := newTestGuard(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, guard.RecordFailedAttempt(ctx, "10.9.9.9", ""))
		}()
	}
	wg.Wait()

	decision, err := guard.CheckBlocked(ctx, "10.9.9.9", "")
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
	assert.Len(t, audit.blocks, 1)
}

func TestGuardWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard, _, _ := newTestGuard(t, repository.NewBlockRedisRepository(client, "bfg:", 20, nil))
	ctx := context.Background()

	failFromIP(t, guard, "10.1.1.1", 10)
	decision, err := guard.CheckBlocked(ctx, "10.1.1.1", "")
	require.NoError(t, err)
	assert.True(t, decision.Blocked)
	assert.Equal(t, 30*time.Minute, decision.RetryAfter)
	assert.True(t, mr.Exists("bfg:ip:10.1.1.1"))
}

func TestBlockDecisionRoundsUp(t *testing.T) {
	decision := models.BlockDecision{Blocked: true, RetryAfter: 1500 * time.Millisecond}
	assert.Equal(t, int64(2), decision.RetryAfterSeconds())
	assert.Zero(t, models.BlockDecision{}.RetryAfterSeconds())
}
