package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RoleRepository resolves role and permission names for users.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository constructs the repository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// RolesForUser returns the role names assigned to a user.
func (r *RoleRepository) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = $1 ORDER BY r.name`
	var roles []string
	if err := r.db.SelectContext(ctx, &roles, query, userID); err != nil {
		return nil, fmt.Errorf("roles for user: %w", err)
	}
	return roles, nil
}

// PermissionsForUser returns the distinct permission names granted through the
// user's roles.
func (r *RoleRepository) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT DISTINCT p.name FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
JOIN user_roles ur ON ur.role_id = rp.role_id
WHERE ur.user_id = $1 ORDER BY p.name`
	var permissions []string
	if err := r.db.SelectContext(ctx, &permissions, query, userID); err != nil {
		return nil, fmt.Errorf("permissions for user: %w", err)
	}
	return permissions, nil
}

// AssignRole links a user to the role with the given name.
func (r *RoleRepository) AssignRole(ctx context.Context, userID, roleName string) error {
	const query = `INSERT INTO user_roles (id, user_id, role_id, created_at) SELECT $1, $2, id, $3 FROM roles WHERE name = $4`
	res, err := r.db.ExecContext(ctx, query, uuid.NewString(), userID, time.Now().UTC(), roleName)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("assign role: role %q does not exist", roleName)
	}
	return nil
}
