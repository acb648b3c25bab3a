package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/identity-api/internal/models"
	appErrors "github.com/noah-isme/identity-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	SetLockout(ctx context.Context, id string, until time.Time) error
	ClearLockout(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string, ts time.Time) error
	Restore(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string) error
}

type sessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
}

type auditRecorder interface {
	Record(ctx context.Context, entry models.AuditLog)
}

// UserService handles user administration workflows.
type UserService struct {
	repo       userRepository
	sessions   sessionRevoker
	audit      auditRecorder
	lockPolicy *AccountLockPolicy
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, sessions sessionRevoker, audit auditRecorder, lockPolicy *AccountLockPolicy, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		repo:       repo,
		sessions:   sessions,
		audit:      audit,
		lockPolicy: lockPolicy,
		validator:  validate,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

// Update modifies the admin-editable attributes.
func (s *UserService) Update(ctx context.Context, id string, req models.UpdateUserRequest, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"display_name": user.DisplayName, "active": user.Active})

	if req.DisplayName != nil {
		user.DisplayName = trimOptional(req.DisplayName)
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, appErrors.ErrStaleWrite) {
			return nil, appErrors.Clone(appErrors.ErrStaleWrite, "user was modified concurrently, reload and retry")
		}
		return nil, appErrors.Internal(err, "failed to update user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"display_name": user.DisplayName, "active": user.Active})
	s.record(ctx, models.AuditActionUserUpdate, actorID, user.ID, oldPayload, newPayload, meta)
	return user, nil
}

// Lock sets an administrative lockout on another account. Until defaults to
// the lockout duration from now and must lie in the future.
func (s *UserService) Lock(ctx context.Context, id string, req models.LockUserRequest, actorID string, meta models.RequestMeta) (time.Time, error) {
	if id == actorID {
		return time.Time{}, appErrors.Clone(appErrors.ErrForbidden, "cannot lock your own account")
	}

	now := s.now()
	until := now.Add(s.lockPolicy.Duration())
	if req.Until != nil {
		until = req.Until.UTC()
	}
	if !until.After(now) {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "lockout end must be in the future")
	}

	if err := s.repo.SetLockout(ctx, id, until); err != nil {
		return time.Time{}, s.mapWriteError(err, "failed to lock user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"lockout_end": until})
	s.record(ctx, models.AuditActionUserLock, actorID, id, nil, newPayload, meta)
	return until, nil
}

// Unlock clears an account lockout and its failure counter.
func (s *UserService) Unlock(ctx context.Context, id string, actorID string, meta models.RequestMeta) error {
	if id == actorID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot unlock your own account")
	}
	if err := s.repo.ClearLockout(ctx, id); err != nil {
		return s.mapWriteError(err, "failed to unlock user")
	}
	s.record(ctx, models.AuditActionUserUnlock, actorID, id, nil, nil, meta)
	return nil
}

// SoftDelete hides a user and ends its sessions.
func (s *UserService) SoftDelete(ctx context.Context, id string, actorID string, meta models.RequestMeta) error {
	if id == actorID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot delete your own account")
	}
	now := s.now()
	if err := s.repo.SoftDelete(ctx, id, now); err != nil {
		return s.mapWriteError(err, "failed to delete user")
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, id, models.RevokeReasonUserDeleted, now); err != nil {
		s.logger.Warn("failed to revoke sessions of deleted user", zap.String("user_id", id), zap.Error(err))
	}
	s.record(ctx, models.AuditActionUserDelete, actorID, id, nil, nil, meta)
	return nil
}

// Restore reverses a soft delete.
func (s *UserService) Restore(ctx context.Context, id string, actorID string, meta models.RequestMeta) error {
	if err := s.repo.Restore(ctx, id); err != nil {
		return s.mapWriteError(err, "failed to restore user")
	}
	s.record(ctx, models.AuditActionUserRestore, actorID, id, nil, nil, meta)
	return nil
}

// HardDelete permanently removes a user, its sessions and role links. The
// caller must confirm explicitly.
func (s *UserService) HardDelete(ctx context.Context, id string, req models.DeleteUserRequest, actorID string, meta models.RequestMeta) error {
	if !req.Confirm {
		return appErrors.Clone(appErrors.ErrValidation, "hard delete requires confirm=true")
	}
	if id == actorID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot delete your own account")
	}
	if err := s.repo.HardDelete(ctx, id); err != nil {
		return s.mapWriteError(err, "failed to delete user")
	}
	s.record(ctx, models.AuditActionUserHardDelete, actorID, id, nil, nil, meta)
	return nil
}

func (s *UserService) mapWriteError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return appErrors.Internal(err, message)
}

func (s *UserService) record(ctx context.Context, action, actorID, targetID string, oldValues, newValues []byte, meta models.RequestMeta) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "users",
		ResourceID: &targetID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})
}
