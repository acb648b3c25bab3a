package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/internal/repository"
	"github.com/noah-isme/identity-api/pkg/config"
)

// blockStore holds guard entries keyed by dimension-prefixed strings. Update
// must apply the mutator atomically per key without locking other keys.
//
// The in-memory implementation is authoritative for one process only; each
// instance of a horizontally scaled deployment tracks failures on its own.
// The Redis implementation shares state between instances.
type blockStore interface {
	Update(ctx context.Context, key string, fn repository.BlockMutator) (*models.BlockEntry, error)
}

type blockAuditor interface {
	BlockTriggered(ctx context.Context, dimension models.BlockDimension, key string)
}

type blockMetrics interface {
	RecordBlockTriggered(dimension string)
}

type guardPolicy struct {
	dimension models.BlockDimension
	threshold int
	window    time.Duration
	bans      []time.Duration
	escalates bool
}

type guardTarget struct {
	key    string
	policy *guardPolicy
}

// BruteForceGuard throttles login attempts per IP, per email and per IP+email
// pair. Each dimension counts failures in its own window and bans the key
// once the threshold is reached. IP bans escalate for repeat offenders.
type BruteForceGuard struct {
	store           blockStore
	ip              guardPolicy
	email           guardPolicy
	ipEmail         guardPolicy
	escalationReset time.Duration
	audit           blockAuditor
	metrics         blockMetrics
	logger          *zap.Logger
	now             func() time.Time
}

// NewBruteForceGuard constructs the guard. audit and metrics may be nil.
func NewBruteForceGuard(store blockStore, cfg config.GuardConfig, audit blockAuditor, metrics blockMetrics, logger *zap.Logger) *BruteForceGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EscalationReset <= 0 {
		cfg.EscalationReset = 24 * time.Hour
	}
	ipBans := cfg.IPBanDurations
	if len(ipBans) == 0 {
		ipBans = []time.Duration{30 * time.Minute, 2 * time.Hour, 24 * time.Hour}
	}

	return &BruteForceGuard{
		store: store,
		ip: guardPolicy{
			dimension: models.BlockDimensionIP,
			threshold: positiveOr(cfg.IPThreshold, 10),
			window:    durationOr(cfg.IPWindow, 5*time.Minute),
			bans:      ipBans,
			escalates: true,
		},
		email: guardPolicy{
			dimension: models.BlockDimensionEmail,
			threshold: positiveOr(cfg.EmailThreshold, 5),
			window:    durationOr(cfg.EmailWindow, 5*time.Minute),
			bans:      []time.Duration{durationOr(cfg.EmailBanDuration, 30*time.Minute)},
		},
		ipEmail: guardPolicy{
			dimension: models.BlockDimensionIPEmail,
			threshold: positiveOr(cfg.IPEmailThreshold, 5),
			window:    durationOr(cfg.IPEmailWindow, 5*time.Minute),
			bans:      []time.Duration{durationOr(cfg.IPEmailBanDuration, 30*time.Minute)},
		},
		escalationReset: cfg.EscalationReset,
		audit:           audit,
		metrics:         metrics,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// CheckBlocked reports whether any applicable dimension currently bans the
// attempt. RetryAfter is the longest remaining ban. Expired bans are purged on
// the way.
func (g *BruteForceGuard) CheckBlocked(ctx context.Context, ip, email string) (models.BlockDecision, error) {
	now := g.now()
	var decision models.BlockDecision

	for _, target := range g.targets(ip, email) {
		target := target
		entry, err := g.store.Update(ctx, target.key, func(current *models.BlockEntry) (*models.BlockEntry, time.Duration) {
			return g.purgeExpired(target.policy, current, now)
		})
		if err != nil {
			return models.BlockDecision{}, fmt.Errorf("check %s block: %w", target.policy.dimension, err)
		}
		if !entry.BlockedAt(now) {
			continue
		}
		decision.Blocked = true
		if remaining := entry.BlockedUntil.Sub(now); remaining > decision.RetryAfter {
			decision.RetryAfter = remaining
		}
	}

	return decision, nil
}

// RecordFailedAttempt counts one failure against every applicable dimension.
func (g *BruteForceGuard) RecordFailedAttempt(ctx context.Context, ip, email string) error {
	now := g.now()

	for _, target := range g.targets(ip, email) {
		target := target
		var triggered bool
		entry, err := g.store.Update(ctx, target.key, func(current *models.BlockEntry) (*models.BlockEntry, time.Duration) {
			next, ttl, blocked := g.nextOnFailure(target.policy, current, now)
			triggered = blocked
			return next, ttl
		})
		if err != nil {
			return fmt.Errorf("record %s failure: %w", target.policy.dimension, err)
		}
		if triggered {
			g.blockTriggered(ctx, target, entry, now)
		}
	}

	return nil
}

// ResetAttempts clears counters and bans on every dimension after a successful
// login. Recent IP escalation history survives so a shared address cannot
// launder an offender.
func (g *BruteForceGuard) ResetAttempts(ctx context.Context, ip, email string) error {
	now := g.now()

	for _, target := range g.targets(ip, email) {
		target := target
		if _, err := g.store.Update(ctx, target.key, func(current *models.BlockEntry) (*models.BlockEntry, time.Duration) {
			return g.clear(target.policy, current, now)
		}); err != nil {
			return fmt.Errorf("reset %s attempts: %w", target.policy.dimension, err)
		}
	}

	return nil
}

func (g *BruteForceGuard) targets(ip, email string) []guardTarget {
	ip = normalizeKey(ip)
	email = normalizeKey(email)

	targets := make([]guardTarget, 0, 3)
	if ip != "" {
		targets = append(targets, guardTarget{key: "ip:" + ip, policy: &g.ip})
	}
	if email != "" {
		targets = append(targets, guardTarget{key: "email:" + email, policy: &g.email})
	}
	if ip != "" && email != "" {
		targets = append(targets, guardTarget{key: "ipemail:" + ip + "|" + email, policy: &g.ipEmail})
	}
	return targets
}

func (g *BruteForceGuard) purgeExpired(policy *guardPolicy, current *models.BlockEntry, now time.Time) (*models.BlockEntry, time.Duration) {
	if current == nil || current.BlockedUntil == nil || current.BlockedAt(now) {
		return current, 0
	}
	return g.clear(policy, current, now)
}

// clear drops counters and bans, keeping only live escalation history.
func (g *BruteForceGuard) clear(policy *guardPolicy, current *models.BlockEntry, now time.Time) (*models.BlockEntry, time.Duration) {
	if current == nil {
		return nil, 0
	}
	if !g.historyLive(policy, current, now) {
		return nil, 0
	}
	if current.Count == 0 && current.BlockedUntil == nil {
		return current, 0
	}
	next := &models.BlockEntry{Level: current.Level, LastBlockAt: current.LastBlockAt}
	return next, g.ttl(policy, next, now)
}

func (g *BruteForceGuard) nextOnFailure(policy *guardPolicy, current *models.BlockEntry, now time.Time) (*models.BlockEntry, time.Duration, bool) {
	if current.BlockedAt(now) {
		return current, 0, false
	}

	next := &models.BlockEntry{Count: 1, WindowStart: now}
	if current != nil {
		if g.historyLive(policy, current, now) {
			next.Level = current.Level
			next.LastBlockAt = current.LastBlockAt
		}
		if current.Count > 0 && current.BlockedUntil == nil && now.Sub(current.WindowStart) <= policy.window {
			next.Count = current.Count + 1
			next.WindowStart = current.WindowStart
		}
	}

	if next.Count < policy.threshold {
		return next, g.ttl(policy, next, now), false
	}

	ban := policy.bans[0]
	if policy.escalates {
		level := 1
		if next.LastBlockAt != nil && next.Level > 0 {
			level = next.Level + 1
		}
		if level > len(policy.bans) {
			level = len(policy.bans)
		}
		ban = policy.bans[level-1]
		blockedAt := now
		next.Level = level
		next.LastBlockAt = &blockedAt
	}

	until := now.Add(ban)
	next.BlockedUntil = &until
	next.Count = 0
	next.WindowStart = time.Time{}
	return next, g.ttl(policy, next, now), true
}

// historyLive reports whether the entry's escalation history still counts.
func (g *BruteForceGuard) historyLive(policy *guardPolicy, entry *models.BlockEntry, now time.Time) bool {
	return policy.escalates && entry.LastBlockAt != nil && now.Sub(*entry.LastBlockAt) <= g.escalationReset
}

// ttl is how long a shared store must retain the entry for it to stay
// meaningful: the failure window, the ban, and any escalation history.
func (g *BruteForceGuard) ttl(policy *guardPolicy, entry *models.BlockEntry, now time.Time) time.Duration {
	ttl := policy.window
	if entry.BlockedUntil != nil {
		if remaining := entry.BlockedUntil.Sub(now); remaining > ttl {
			ttl = remaining
		}
	}
	if policy.escalates && entry.LastBlockAt != nil {
		if remaining := entry.LastBlockAt.Add(g.escalationReset).Sub(now); remaining > ttl {
			ttl = remaining
		}
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (g *BruteForceGuard) blockTriggered(ctx context.Context, target guardTarget, entry *models.BlockEntry, now time.Time) {
	fields := []zap.Field{
		zap.String("dimension", string(target.policy.dimension)),
		zap.String("key", target.key),
	}
	if entry != nil && entry.BlockedUntil != nil {
		fields = append(fields, zap.Duration("ban", entry.BlockedUntil.Sub(now)), zap.Int("level", entry.Level))
	}
	g.logger.Warn("brute force block triggered", fields...)

	if g.metrics != nil {
		g.metrics.RecordBlockTriggered(string(target.policy.dimension))
	}
	if g.audit != nil {
		g.audit.BlockTriggered(ctx, target.policy.dimension, target.key)
	}
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
