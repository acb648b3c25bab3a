package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/pkg/config"
	"github.com/noah-isme/identity-api/pkg/jobs"
)

const auditJobType = "audit_log"

type auditRepository interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditMetrics interface {
	RecordAuditDropped()
}

// AuditService records security events. Every event is logged immediately and
// persisted asynchronously; callers are never blocked or failed by it.
type AuditService struct {
	repo    auditRepository
	queue   *jobs.Queue
	metrics auditMetrics
	logger  *zap.Logger
}

// NewAuditService builds the service and its worker queue. repo may be nil, in
// which case events are only logged.
func NewAuditService(repo auditRepository, metrics auditMetrics, logger *zap.Logger, cfg config.AuditConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AuditService{repo: repo, metrics: metrics, logger: logger}
	if repo != nil {
		svc.queue = jobs.NewQueue("audit", svc.persist, jobs.QueueConfig{
			Workers:    cfg.Workers,
			BufferSize: cfg.BufferSize,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
	}
	return svc
}

// Start launches the persistence workers.
func (s *AuditService) Start(ctx context.Context) {
	if s.queue != nil {
		s.queue.Start(ctx)
	}
}

// Stop flushes buffered events and stops the workers.
func (s *AuditService) Stop() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

// LoginSucceeded records a successful login.
func (s *AuditService) LoginSucceeded(ctx context.Context, userID, ip, userAgent string) {
	s.Record(ctx, models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &userID,
		NewValues:  mustJSON(map[string]string{"status": "success"}),
		IPAddress:  ip,
		UserAgent:  userAgent,
	})
}

// LoginFailed records a rejected login. reason is one of the outcome labels.
func (s *AuditService) LoginFailed(ctx context.Context, email, ip, userAgent, reason string) {
	s.Record(ctx, models.AuditLog{
		Action:    models.AuditActionLoginFailed,
		Resource:  "auth",
		NewValues: mustJSON(map[string]string{"email": email, "reason": reason}),
		IPAddress: ip,
		UserAgent: userAgent,
	})
}

// LockoutTriggered records a new account lockout.
func (s *AuditService) LockoutTriggered(ctx context.Context, userID string, until time.Time) {
	s.Record(ctx, models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionLockoutTriggered,
		Resource:   "user",
		ResourceID: &userID,
		NewValues:  mustJSON(map[string]string{"lockout_end": until.UTC().Format(time.RFC3339)}),
	})
}

// BlockTriggered records a new brute-force ban.
func (s *AuditService) BlockTriggered(ctx context.Context, dimension models.BlockDimension, key string) {
	s.Record(ctx, models.AuditLog{
		Action:     models.AuditActionBlockTriggered,
		Resource:   "guard",
		ResourceID: &key,
		NewValues:  mustJSON(map[string]string{"dimension": string(dimension)}),
	})
}

// Record logs the event and hands it to the persistence queue.
func (s *AuditService) Record(_ context.Context, entry models.AuditLog) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("audit_id", entry.ID),
		zap.String("action", entry.Action),
		zap.String("resource", entry.Resource),
	}
	if entry.UserID != nil {
		fields = append(fields, zap.String("user_id", *entry.UserID))
	}
	if entry.ResourceID != nil {
		fields = append(fields, zap.String("resource_id", *entry.ResourceID))
	}
	if entry.IPAddress != "" {
		fields = append(fields, zap.String("ip", entry.IPAddress))
	}
	s.logger.Info("audit event", fields...)

	if s.queue == nil {
		return
	}
	if err := s.queue.TryEnqueue(jobs.Job{ID: entry.ID, Type: auditJobType, Payload: entry}); err != nil {
		if errors.Is(err, jobs.ErrQueueFull) && s.metrics != nil {
			s.metrics.RecordAuditDropped()
		}
		s.logger.Warn("audit event not queued", zap.String("audit_id", entry.ID), zap.Error(err))
	}
}

func (s *AuditService) persist(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(models.AuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	return s.repo.CreateAuditLog(ctx, &entry)
}

func mustJSON(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return payload
}
