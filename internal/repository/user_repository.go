package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/identity-api/internal/models"
	appErrors "github.com/noah-isme/identity-api/pkg/errors"
)

const userColumns = `id, email, password_hash, password_salt, display_name, active, is_deleted, deleted_at, failed_login_attempts, lockout_end, recovery_token, recovery_token_expiry, last_login, version, created_at, updated_at`

// UserRepository provides database access for user management. Every write
// bumps the version column; Update only succeeds against the version it read.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by normalised email address, deleted or not.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByRecoveryToken returns the user holding the given recovery token.
func (r *UserRepository) FindByRecoveryToken(ctx context.Context, token string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE recovery_token = $1 AND is_deleted = FALSE LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by recovery token: %w", err)
	}
	return &user, nil
}

// Create inserts a new user at version 1.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Version = 1

	const query = `INSERT INTO users (id, email, password_hash, password_salt, display_name, active, is_deleted, failed_login_attempts, version, created_at, updated_at)
VALUES (:id, :email, :password_hash, :password_salt, :display_name, :active, :is_deleted, :failed_login_attempts, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrAlreadyExists, "email already registered")
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update replaces every mutable column provided the stored version still
// matches user.Version. A mismatch returns ErrStaleWrite and leaves user
// untouched.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	next := *user
	next.UpdatedAt = time.Now().UTC()

	const query = `UPDATE users SET email = :email, password_hash = :password_hash, password_salt = :password_salt,
display_name = :display_name, active = :active, is_deleted = :is_deleted, deleted_at = :deleted_at,
failed_login_attempts = :failed_login_attempts, lockout_end = :lockout_end, recovery_token = :recovery_token,
recovery_token_expiry = :recovery_token_expiry, last_login = :last_login, version = version + 1, updated_at = :updated_at
WHERE id = :id AND version = :version`
	res, err := r.db.NamedExecContext(ctx, query, &next)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrStaleWrite
	}

	user.UpdatedAt = next.UpdatedAt
	user.Version++
	return nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, version = version + 1, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, time.Now().UTC()); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// SetLockout forces a lockout end regardless of the failure counter.
func (r *UserRepository) SetLockout(ctx context.Context, id string, until time.Time) error {
	const query = `UPDATE users SET lockout_end = $2, version = version + 1, updated_at = $3 WHERE id = $1 AND is_deleted = FALSE`
	return r.execAffectingOne(ctx, "set lockout", query, id, until, time.Now().UTC())
}

// ClearLockout lifts any lockout and resets the failure counter.
func (r *UserRepository) ClearLockout(ctx context.Context, id string) error {
	const query = `UPDATE users SET lockout_end = NULL, failed_login_attempts = 0, version = version + 1, updated_at = $2 WHERE id = $1 AND is_deleted = FALSE`
	return r.execAffectingOne(ctx, "clear lockout", query, id, time.Now().UTC())
}

// SoftDelete flags a user as deleted.
func (r *UserRepository) SoftDelete(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET is_deleted = TRUE, deleted_at = $2, version = version + 1, updated_at = $2 WHERE id = $1 AND is_deleted = FALSE`
	return r.execAffectingOne(ctx, "soft delete user", query, id, ts)
}

// Restore undoes a soft delete.
func (r *UserRepository) Restore(ctx context.Context, id string) error {
	const query = `UPDATE users SET is_deleted = FALSE, deleted_at = NULL, version = version + 1, updated_at = $2 WHERE id = $1 AND is_deleted = TRUE`
	return r.execAffectingOne(ctx, "restore user", query, id, time.Now().UTC())
}

// HardDelete removes the user with its refresh tokens and role links.
func (r *UserRepository) HardDelete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hard delete tx: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM refresh_tokens WHERE user_id = $1`,
		`DELETE FROM user_roles WHERE user_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("hard delete user dependents: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("hard delete user: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit hard delete tx: %w", err)
	}
	return nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if !filter.IncludeDeleted {
		conditions = append(conditions, "is_deleted = FALSE")
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(display_name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"email":        true,
		"created_at":   true,
		"updated_at":   true,
		"display_name": true,
		"last_login":   true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

func (r *UserRepository) execAffectingOne(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
