package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/pkg/config"
	appErrors "github.com/noah-isme/identity-api/pkg/errors"
)

// 32 zero bytes, base64. Verifying against these burns the same KDF cost as a
// real account without ever matching.
const (
	dummyPasswordHash = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	dummyPasswordSalt = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
)

const recoveryTokenBytes = 32

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByRecoveryToken(ctx context.Context, token string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type refreshTokenRepository interface {
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	Create(ctx context.Context, token *models.RefreshToken) error
	Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
}

type roleRepository interface {
	RolesForUser(ctx context.Context, userID string) ([]string, error)
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)
	AssignRole(ctx context.Context, userID, roleName string) error
}

type passwordHasher interface {
	Hash(password string) (string, string, error)
	Verify(password, hash, salt string) bool
}

type tokenIssuer interface {
	IssueAccessToken(userID, email string, roles []string) (string, time.Time, error)
	IssueRefreshToken() (string, time.Time, error)
	ValidateAccessToken(token string) (*models.AccessClaims, bool)
	AccessTokenTTL() time.Duration
}

type loginGuard interface {
	CheckBlocked(ctx context.Context, ip, email string) (models.BlockDecision, error)
	RecordFailedAttempt(ctx context.Context, ip, email string) error
	ResetAttempts(ctx context.Context, ip, email string) error
}

type authAuditSink interface {
	LoginSucceeded(ctx context.Context, userID, ip, userAgent string)
	LoginFailed(ctx context.Context, email, ip, userAgent, reason string)
	LockoutTriggered(ctx context.Context, userID string, until time.Time)
	Record(ctx context.Context, entry models.AuditLog)
}

type authMetrics interface {
	RecordLoginAttempt(outcome string)
	RecordLockoutTriggered()
	RecordTokenRefresh(success bool)
}

// recoveryNotifier delivers a password recovery token to the account owner.
type recoveryNotifier interface {
	SendRecoveryToken(ctx context.Context, user *models.User, token string, expiresAt time.Time) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	SingleSession    bool
	DefaultRole      string
	RecoveryTokenTTL time.Duration
	MaxWriteRetries  int
}

// AuthServiceParams groups constructor dependencies.
type AuthServiceParams struct {
	Users      authUserRepository
	Tokens     refreshTokenRepository
	Roles      roleRepository
	Hasher     passwordHasher
	Issuer     tokenIssuer
	Guard      loginGuard
	LockPolicy *AccountLockPolicy
	Audit      authAuditSink
	Notifier   recoveryNotifier
	Metrics    authMetrics
	Validator  *validator.Validate
	Logger     *zap.Logger
	Config     AuthConfig
}

// AuthService coordinates the brute-force guard, account lockout, password
// verification and token rotation.
type AuthService struct {
	users      authUserRepository
	tokens     refreshTokenRepository
	roles      roleRepository
	hasher     passwordHasher
	issuer     tokenIssuer
	guard      loginGuard
	lockPolicy *AccountLockPolicy
	audit      authAuditSink
	notifier   recoveryNotifier
	metrics    authMetrics
	validator  *validator.Validate
	logger     *zap.Logger
	config     AuthConfig
	now        func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(params AuthServiceParams) *AuthService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	cfg := params.Config
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = models.RoleUser
	}
	if cfg.RecoveryTokenTTL <= 0 {
		cfg.RecoveryTokenTTL = time.Hour
	}
	if cfg.MaxWriteRetries <= 0 {
		cfg.MaxWriteRetries = 3
	}
	lockPolicy := params.LockPolicy
	if lockPolicy == nil {
		lockPolicy = NewAccountLockPolicy(config.LockoutConfig{})
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = NewLogRecoveryNotifier(logger)
	}

	return &AuthService{
		users:      params.Users,
		tokens:     params.Tokens,
		roles:      params.Roles,
		hasher:     params.Hasher,
		issuer:     params.Issuer,
		guard:      params.Guard,
		lockPolicy: lockPolicy,
		audit:      params.Audit,
		notifier:   notifier,
		metrics:    params.Metrics,
		validator:  validate,
		logger:     logger,
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Login runs one authentication attempt. Guard and lockout verdicts come back
// as LoginOutcome values; the error is reserved for validation and
// infrastructure faults, plus ACCOUNT_INACTIVE for a caller who proved the
// password of a disabled account.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (models.LoginOutcome, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	email := req.Email

	decision, err := s.guard.CheckBlocked(ctx, req.IP, email)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to evaluate login guard")
	}
	if decision.Blocked {
		s.recordLogin(LoginOutcomeBlocked)
		s.auditFailure(ctx, email, req, LoginOutcomeBlocked)
		return models.LoginBlocked{RetryAfter: decision.RetryAfter}, nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	if user == nil || user.IsDeleted {
		s.hasher.Verify(req.Password, dummyPasswordHash, dummyPasswordSalt)
		if err := s.guard.RecordFailedAttempt(ctx, req.IP, email); err != nil {
			return nil, appErrors.Internal(err, "failed to record login failure")
		}
		s.recordLogin(LoginOutcomeRejected)
		s.auditFailure(ctx, email, req, "unknown_account")
		return models.LoginRejected{}, nil
	}

	now := s.now()
	if s.lockPolicy.IsLocked(user, now) {
		s.recordLogin(LoginOutcomeLocked)
		s.auditFailure(ctx, email, req, LoginOutcomeLocked)
		return models.LoginLocked{LockoutEnd: *user.LockoutEnd}, nil
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash, user.PasswordSalt) {
		return s.handleWrongPassword(ctx, user, email, req, now)
	}

	if !user.Active {
		s.recordLogin(LoginOutcomeInactive)
		s.auditFailure(ctx, email, req, LoginOutcomeInactive)
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	user, err = s.mutateUser(ctx, user, func(u *models.User) bool {
		return s.lockPolicy.Reset(u)
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to reset failed login counter")
	}
	if err := s.guard.ResetAttempts(ctx, req.IP, email); err != nil {
		s.logger.Warn("failed to reset brute force counters", zap.Error(err))
	}

	resp, err := s.issueSession(ctx, user, req.IP, req.UserAgent, s.config.SingleSession)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.recordLogin(LoginOutcomeSuccess)
	if s.audit != nil {
		s.audit.LoginSucceeded(ctx, user.ID, req.IP, req.UserAgent)
	}
	return models.LoginSucceeded{Response: *resp}, nil
}

func (s *AuthService) handleWrongPassword(ctx context.Context, user *models.User, email string, req models.LoginRequest, now time.Time) (models.LoginOutcome, error) {
	var newlyLocked bool
	updated, err := s.mutateUser(ctx, user, func(u *models.User) bool {
		newlyLocked = false
		if s.lockPolicy.IsLocked(u, now) {
			return false
		}
		newlyLocked = s.lockPolicy.RegisterFailure(u, now)
		return true
	})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to record failed login")
	}

	if newlyLocked {
		s.logger.Warn("account locked after failed logins", zap.String("user_id", updated.ID), zap.Time("lockout_end", *updated.LockoutEnd))
		if s.metrics != nil {
			s.metrics.RecordLockoutTriggered()
		}
		if s.audit != nil {
			s.audit.LockoutTriggered(ctx, updated.ID, *updated.LockoutEnd)
		}
		s.recordLogin(LoginOutcomeLocked)
		s.auditFailure(ctx, email, req, LoginOutcomeLocked)
		return models.LoginLocked{LockoutEnd: *updated.LockoutEnd, NewlyTriggered: true}, nil
	}

	if err := s.guard.RecordFailedAttempt(ctx, req.IP, email); err != nil {
		return nil, appErrors.Internal(err, "failed to record login failure")
	}

	// A concurrent attempt may have locked the account while this one was in flight.
	if s.lockPolicy.IsLocked(updated, now) {
		s.recordLogin(LoginOutcomeLocked)
		s.auditFailure(ctx, email, req, LoginOutcomeLocked)
		return models.LoginLocked{LockoutEnd: *updated.LockoutEnd}, nil
	}

	s.recordLogin(LoginOutcomeRejected)
	s.auditFailure(ctx, email, req, "invalid_password")
	return models.LoginRejected{}, nil
}

// Register creates an account with the default role and signs it in.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	email := req.Email

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to check email")
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrAlreadyExists, "email already registered")
	}

	hash, salt, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		DisplayName:  trimOptional(req.DisplayName),
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, appErrors.ErrAlreadyExists) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyExists, "email already registered")
		}
		return nil, appErrors.Internal(err, "failed to create user")
	}

	if err := s.roles.AssignRole(ctx, user.ID, s.config.DefaultRole); err != nil {
		s.logger.Warn("failed to assign default role", zap.String("user_id", user.ID), zap.String("role", s.config.DefaultRole), zap.Error(err))
	}

	resp, err := s.issueSession(ctx, user, req.IP, req.UserAgent, false)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionRegister,
		Resource:   "user",
		ResourceID: &user.ID,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})
	return resp, nil
}

// Refresh redeems a refresh token for a new token pair. The presented token is
// revoked conditionally, so replaying it, or racing a concurrent redemption,
// fails with INVALID_OR_EXPIRED_TOKEN.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	resp, err := s.refresh(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(err == nil)
	}
	return resp, err
}

func (s *AuthService) refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.AuthResponse, error) {
	stored, err := s.tokens.FindByToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
		}
		return nil, appErrors.Internal(err, "failed to fetch refresh token")
	}

	now := s.now()
	if !stored.ActiveAt(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Internal(err, "failed to load user")
	}
	if user == nil || user.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	revoked, err := s.tokens.Revoke(ctx, stored.ID, models.RevokeReasonRefreshed, now)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to revoke refresh token")
	}
	if !revoked {
		return nil, appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "")
	}

	resp, err := s.issueSession(ctx, user, req.IP, req.UserAgent, false)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionTokenRefresh,
		Resource:   "auth",
		ResourceID: &stored.ID,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})
	return resp, nil
}

// Revoke invalidates one of the caller's refresh tokens. Unknown, foreign or
// already revoked tokens yield REVOKE_FAILED.
func (s *AuthService) Revoke(ctx context.Context, userID string, req models.RevokeRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid revoke payload")
	}

	stored, err := s.tokens.FindByToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrRevokeFailed, "")
		}
		return appErrors.Internal(err, "failed to load refresh token")
	}
	if stored.UserID != userID || stored.Revoked() {
		return appErrors.Clone(appErrors.ErrRevokeFailed, "")
	}

	revoked, err := s.tokens.Revoke(ctx, stored.ID, models.RevokeReasonUser, s.now())
	if err != nil {
		return appErrors.Internal(err, "failed to revoke refresh token")
	}
	if !revoked {
		return appErrors.Clone(appErrors.ErrRevokeFailed, "")
	}

	s.recordAudit(ctx, models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionLogout,
		Resource:   "auth",
		ResourceID: &stored.ID,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})
	return nil
}

// ForgotPassword issues a recovery token for existing accounts. The outward
// result is the same whether or not the email is registered.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forgot password payload")
	}
	email := req.Email

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("failed to look up user for recovery", zap.Error(err))
		}
		return nil
	}
	if user.IsDeleted {
		return nil
	}

	token, err := generateOpaqueToken(recoveryTokenBytes)
	if err != nil {
		s.logger.Error("failed to generate recovery token", zap.Error(err))
		return nil
	}
	expiresAt := s.now().Add(s.config.RecoveryTokenTTL)

	updated := *user
	updated.RecoveryToken = &token
	updated.RecoveryTokenExpiry = &expiresAt
	if err := s.users.Update(ctx, &updated); err != nil {
		s.logger.Error("failed to persist recovery token", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	}

	if err := s.notifier.SendRecoveryToken(ctx, &updated, token, expiresAt); err != nil {
		s.logger.Error("failed to deliver recovery token", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.recordAudit(ctx, models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionPasswordForgot,
		Resource:   "user",
		ResourceID: &user.ID,
		IPAddress:  req.IP,
	})
	return nil
}

// ResetPassword consumes a recovery token once and sets a new password. All
// refresh tokens of the account are revoked.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}

	user, err := s.users.FindByRecoveryToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return invalidRecoveryToken()
		}
		return appErrors.Internal(err, "failed to load recovery token")
	}

	now := s.now()
	if user.RecoveryTokenExpiry == nil || !now.Before(*user.RecoveryTokenExpiry) {
		return invalidRecoveryToken()
	}

	hash, salt, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Internal(err, "failed to hash password")
	}

	updated := *user
	updated.PasswordHash = hash
	updated.PasswordSalt = salt
	updated.RecoveryToken = nil
	updated.RecoveryTokenExpiry = nil
	if err := s.users.Update(ctx, &updated); err != nil {
		if errors.Is(err, appErrors.ErrStaleWrite) {
			return invalidRecoveryToken()
		}
		return appErrors.Internal(err, "failed to update password")
	}

	if _, err := s.tokens.RevokeAllForUser(ctx, user.ID, models.RevokeReasonPasswordReset, now); err != nil {
		s.logger.Error("failed to revoke refresh tokens after password reset", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.recordAudit(ctx, models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionPasswordReset,
		Resource:   "user",
		ResourceID: &user.ID,
		IPAddress:  req.IP,
	})
	return nil
}

// ChangePassword changes the password for the given user ID.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Internal(err, "failed to load user")
	}
	if user.IsDeleted {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}

	if !s.hasher.Verify(req.OldPassword, user.PasswordHash, user.PasswordSalt) {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	hash, salt, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Internal(err, "failed to hash password")
	}

	if _, err := s.mutateUser(ctx, user, func(u *models.User) bool {
		u.PasswordHash = hash
		u.PasswordSalt = salt
		return true
	}); err != nil {
		return appErrors.Internal(err, "failed to update password")
	}

	if _, err := s.tokens.RevokeAllForUser(ctx, userID, models.RevokeReasonPasswordChanged, s.now()); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.Error(err))
	}

	s.recordAudit(ctx, models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionPasswordChange,
		Resource:   "user",
		ResourceID: &userID,
	})
	return nil
}

// ValidateAccessToken checks an access token. It never errors; invalid tokens
// yield ok == false.
func (s *AuthService) ValidateAccessToken(token string) (*models.AccessClaims, bool) {
	return s.issuer.ValidateAccessToken(token)
}

// issueSession stores a fresh refresh token and signs an access token carrying
// the user's roles.
func (s *AuthService) issueSession(ctx context.Context, user *models.User, ip, userAgent string, revokeOthers bool) (*models.AuthResponse, error) {
	now := s.now()
	if revokeOthers {
		if _, err := s.tokens.RevokeAllForUser(ctx, user.ID, models.RevokeReasonSingleSession, now); err != nil {
			s.logger.Warn("failed to revoke previous refresh tokens", zap.Error(err))
		}
	}

	roles, err := s.roles.RolesForUser(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load roles")
	}
	permissions, err := s.roles.PermissionsForUser(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load permissions")
	}
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}

	refreshValue, refreshExpiry, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create refresh token")
	}
	refresh := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Token:     refreshValue,
		ExpiresAt: refreshExpiry,
		CreatedAt: now,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.tokens.Create(ctx, refresh); err != nil {
		return nil, appErrors.Internal(err, "failed to persist refresh token")
	}

	accessToken, expiresAt, err := s.issuer.IssueAccessToken(user.ID, user.Email, roles)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}

	return &models.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.AccessTokenTTL().Seconds()),
		ExpiresAt:    expiresAt,
		User: models.UserInfo{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
		},
		Roles:       roles,
		Permissions: permissions,
	}, nil
}

// mutateUser applies fn to a copy of user and writes it with the version check.
// On a stale write the user is reloaded and fn re-applied, up to
// MaxWriteRetries times. fn returns false when there is nothing to write.
func (s *AuthService) mutateUser(ctx context.Context, user *models.User, fn func(*models.User) bool) (*models.User, error) {
	current := user
	for attempt := 1; ; attempt++ {
		candidate := *current
		if !fn(&candidate) {
			return &candidate, nil
		}

		err := s.users.Update(ctx, &candidate)
		if err == nil {
			return &candidate, nil
		}
		if !errors.Is(err, appErrors.ErrStaleWrite) || attempt >= s.config.MaxWriteRetries {
			return nil, err
		}

		reloaded, err := s.users.FindByID(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		current = reloaded
	}
}

func (s *AuthService) recordLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordLoginAttempt(outcome)
	}
}

func (s *AuthService) auditFailure(ctx context.Context, email string, req models.LoginRequest, reason string) {
	if s.audit != nil {
		s.audit.LoginFailed(ctx, email, req.IP, req.UserAgent, reason)
	}
}

func (s *AuthService) recordAudit(ctx context.Context, entry models.AuditLog) {
	if s.audit != nil {
		s.audit.Record(ctx, entry)
	}
}

func invalidRecoveryToken() *appErrors.Error {
	err := appErrors.Clone(appErrors.ErrInvalidOrExpiredToken, "recovery token is invalid or has expired")
	err.Status = http.StatusBadRequest
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func generateOpaqueToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
