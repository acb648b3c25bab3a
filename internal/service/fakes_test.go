package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/noah-isme/identity-api/internal/models"
	appErrors "github.com/noah-isme/identity-api/pkg/errors"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeUserStore mimics the version-checked repository. staleWrites makes the
// next Update calls lose to a simulated concurrent failed login.
type fakeUserStore struct {
	mu          sync.Mutex
	users       map[string]*models.User
	staleWrites int
	updateCalls int
	findErr     error
	updateErr   error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*models.User)}
}

func (f *fakeUserStore) put(user *models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *user
	if copy.Version == 0 {
		copy.Version = 1
	}
	f.users[user.ID] = &copy
}

func (f *fakeUserStore) get(id string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[id]; ok {
		copy := *user
		return &copy
	}
	return nil
}

func (f *fakeUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.users {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	if u, ok := f.users[id]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserStore) FindByRecoveryToken(ctx context.Context, token string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.RecoveryToken != nil && *u.RecoveryToken == token && !u.IsDeleted {
			copy := *u
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUserStore) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return appErrors.Clone(appErrors.ErrAlreadyExists, "")
		}
	}
	user.Version = 1
	copy := *user
	f.users[user.ID] = &copy
	return nil
}

func (f *fakeUserStore) Update(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.users[user.ID]
	if !ok {
		return appErrors.ErrStaleWrite
	}
	if f.staleWrites > 0 {
		f.staleWrites--
		stored.FailedLoginAttempts++
		stored.Version++
		return appErrors.ErrStaleWrite
	}
	if stored.Version != user.Version {
		return appErrors.ErrStaleWrite
	}
	user.Version++
	copy := *user
	f.users[user.ID] = &copy
	return nil
}

func (f *fakeUserStore) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.LastLogin = &ts
		u.Version++
	}
	return nil
}

func (f *fakeUserStore) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []models.User
	for _, u := range f.users {
		if u.IsDeleted && !filter.IncludeDeleted {
			continue
		}
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (f *fakeUserStore) SetLockout(ctx context.Context, id string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.IsDeleted {
		return sql.ErrNoRows
	}
	u.LockoutEnd = &until
	u.Version++
	return nil
}

func (f *fakeUserStore) ClearLockout(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.IsDeleted {
		return sql.ErrNoRows
	}
	u.LockoutEnd = nil
	u.FailedLoginAttempts = 0
	u.Version++
	return nil
}

func (f *fakeUserStore) SoftDelete(ctx context.Context, id string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.IsDeleted {
		return sql.ErrNoRows
	}
	u.IsDeleted = true
	u.DeletedAt = &ts
	u.Version++
	return nil
}

func (f *fakeUserStore) Restore(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || !u.IsDeleted {
		return sql.ErrNoRows
	}
	u.IsDeleted = false
	u.DeletedAt = nil
	u.Version++
	return nil
}

func (f *fakeUserStore) HardDelete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.users, id)
	return nil
}

type fakeTokenStore struct {
	mu            sync.Mutex
	tokens        map[string]*models.RefreshToken
	revokeReasons []string
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]*models.RefreshToken)}
}

func (f *fakeTokenStore) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rt, ok := f.tokens[token]; ok {
		copy := *rt
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *token
	f.tokens[token.Token] = &copy
	return nil
}

func (f *fakeTokenStore) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rt := range f.tokens {
		if rt.ID != id {
			continue
		}
		if rt.RevokedAt != nil {
			return false, nil
		}
		r := reason
		rt.RevokedReason = &r
		rt.RevokedAt = &at
		return true, nil
	}
	return false, nil
}

func (f *fakeTokenStore) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeReasons = append(f.revokeReasons, reason)
	var count int64
	for _, rt := range f.tokens {
		if rt.UserID == userID && rt.RevokedAt == nil {
			r := reason
			rt.RevokedReason = &r
			rt.RevokedAt = &at
			count++
		}
	}
	return count, nil
}

func (f *fakeTokenStore) active(userID string, now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int
	for _, rt := range f.tokens {
		if rt.UserID == userID && rt.ActiveAt(now) {
			count++
		}
	}
	return count
}

type fakeRoleStore struct {
	mu    sync.Mutex
	roles map[string][]string
}

func newFakeRoleStore() *fakeRoleStore {
	return &fakeRoleStore{roles: make(map[string][]string)}
}

func (f *fakeRoleStore) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.roles[userID]...), nil
}

func (f *fakeRoleStore) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var perms []string
	for _, role := range f.roles[userID] {
		perms = append(perms, "profile.read:"+role)
	}
	return perms, nil
}

func (f *fakeRoleStore) AssignRole(ctx context.Context, userID, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[userID] = append(f.roles[userID], roleName)
	return nil
}

// plainHasher skips the KDF so service tests stay fast.
type plainHasher struct {
	mu       sync.Mutex
	verifies int
}

func (h *plainHasher) Hash(password string) (string, string, error) {
	return "hash:" + password, "salt", nil
}

func (h *plainHasher) Verify(password, hash, salt string) bool {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	return hash == "hash:"+password && salt == "salt"
}

type fakeAuditSink struct {
	mu        sync.Mutex
	succeeded []string
	failed    []string
	lockouts  []string
	blocks    []string
	records   []models.AuditLog
}

func (f *fakeAuditSink) LoginSucceeded(ctx context.Context, userID, ip, userAgent string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded = append(f.succeeded, userID)
}

func (f *fakeAuditSink) LoginFailed(ctx context.Context, email, ip, userAgent, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, reason)
}

func (f *fakeAuditSink) LockoutTriggered(ctx context.Context, userID string, until time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockouts = append(f.lockouts, userID)
}

func (f *fakeAuditSink) BlockTriggered(ctx context.Context, dimension models.BlockDimension, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, key)
}

func (f *fakeAuditSink) Record(ctx context.Context, entry models.AuditLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, entry)
}

func (f *fakeAuditSink) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]string, 0, len(f.records))
	for _, r := range f.records {
		actions = append(actions, r.Action)
	}
	return actions
}

type recordingNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *recordingNotifier) SendRecoveryToken(ctx context.Context, user *models.User, token string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tokens == nil {
		n.tokens = make(map[string]string)
	}
	n.tokens[user.Email] = token
	return nil
}
