// AngelaMos | 2026
// service_test.go

package user

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/voiceagent-billing/internal/core"
)

type memRepository struct {
	mu    sync.Mutex
	users map[string]*User
}

func newMemRepository(users ...*User) *memRepository {
	m := &memRepository{users: map[string]*User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memRepository) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == user.Email && !u.IsDeleted() {
			return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memRepository) find(match func(*User) bool) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
}

func (m *memRepository) GetByID(_ context.Context, id string) (*User, error) {
	return m.find(func(u *User) bool { return u.ID == id && !u.IsDeleted() })
}

func (m *memRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	return m.find(func(u *User) bool { return u.Email == email && !u.IsDeleted() })
}

func (m *memRepository) GetByStripeCustomerID(_ context.Context, customerID string) (*User, error) {
	return m.find(func(u *User) bool {
		return u.StripeCustomerID != nil && *u.StripeCustomerID == customerID
	})
}

func (m *memRepository) Update(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[user.ID]
	if !ok || u.IsDeleted() {
		return fmt.Errorf("update user: %w", core.ErrNotFound)
	}
	u.Name = user.Name
	u.Role = user.Role
	u.UpdatedAt = time.Now()
	user.UpdatedAt = u.UpdatedAt
	return nil
}

func (m *memRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok || u.IsDeleted() {
		return fmt.Errorf("update password: %w", core.ErrNotFound)
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memRepository) SetStripeCustomerID(_ context.Context, id, customerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return "", fmt.Errorf("set customer id: %w", core.ErrNotFound)
	}
	if u.StripeCustomerID == nil {
		u.StripeCustomerID = &customerID
	}
	return *u.StripeCustomerID, nil
}

func (m *memRepository) SoftDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok || u.IsDeleted() {
		return fmt.Errorf("delete user: %w", core.ErrNotFound)
	}
	now := time.Now()
	u.DeletedAt = &now
	return nil
}

func (m *memRepository) List(_ context.Context, params ListUsersParams) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []User
	for _, u := range m.users {
		if !u.IsDeleted() && (params.Role == "" || u.Role == params.Role) {
			users = append(users, *u)
		}
	}
	return users, len(users), nil
}

func TestCreateNormalizesEmail(t *testing.T) {
	svc := NewService(newMemRepository())
	ctx := context.Background()

	info, err := svc.Create(ctx, "Caller@Example.COM", "hash", "Caller")
	require.NoError(t, err)
	assert.Equal(t, "caller@example.com", info.Email)
	assert.Equal(t, RoleUser, info.Role)

	found, err := svc.GetByEmail(ctx, "CALLER@example.com")
	require.NoError(t, err)
	assert.Equal(t, info.ID, found.ID)

	_, err = svc.Create(ctx, "caller@example.com", "hash", "Again")
	assert.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestStripeCustomerIsWrittenOnce(t *testing.T) {
	repo := newMemRepository(&User{ID: "7", Email: "a@example.com", Name: "A", Role: RoleUser})
	svc := NewService(repo)
	ctx := context.Background()

	account, err := svc.GetAccount(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, account.StripeCustomerID)
	assert.Equal(t, "a@example.com", account.Email)

	stored, err := svc.SetStripeCustomerID(ctx, "7", "cus_first")
	require.NoError(t, err)
	assert.Equal(t, "cus_first", stored)

	stored, err = svc.SetStripeCustomerID(ctx, "7", "cus_second")
	require.NoError(t, err)
	assert.Equal(t, "cus_first", stored)

	account, err = svc.FindByStripeCustomerID(ctx, "cus_first")
	require.NoError(t, err)
	assert.Equal(t, "7", account.UserID)
	assert.Equal(t, "cus_first", account.StripeCustomerID)

	_, err = svc.FindByStripeCustomerID(ctx, "cus_second")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCanDeleteUser(t *testing.T) {
	repo := newMemRepository(
		&User{ID: "admin", Role: RoleAdmin},
		&User{ID: "other-admin", Role: RoleAdmin},
		&User{ID: "u1", Role: RoleUser},
		&User{ID: "u2", Role: RoleUser},
	)
	svc := NewService(repo)
	ctx := context.Background()

	tests := []struct {
		name      string
		requester string
		target    string
		wantErr   error
	}{
		{"self", "u1", "u1", nil},
		{"admin deletes user", "admin", "u1", nil},
		{"user deletes user", "u1", "u2", core.ErrForbidden},
		{"admin deletes admin", "admin", "other-admin", core.ErrForbidden},
		{"missing target", "admin", "ghost", core.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CanDeleteUser(ctx, tt.requester, tt.target)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUpdateUserRole(t *testing.T) {
	svc := NewService(newMemRepository(&User{ID: "u1", Role: RoleUser}))
	ctx := context.Background()

	_, err := svc.UpdateUserRole(ctx, "u1", "owner")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	u, err := svc.UpdateUserRole(ctx, "u1", RoleAdmin)
	require.NoError(t, err)
	assert.True(t, u.IsAdmin())
}

func TestMeRequiresUser(t *testing.T) {
	svc := NewService(newMemRepository())
	ctx := context.Background()

	_, err := svc.GetMe(ctx, "")
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	assert.ErrorIs(t, svc.DeleteMe(ctx, ""), core.ErrUnauthorized)
}
