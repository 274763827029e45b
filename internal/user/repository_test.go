//go:build integration

// AngelaMos | 2026
// repository_test.go

package user

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/carterperez-dev/voiceagent-billing/internal/core"
	"github.com/carterperez-dev/voiceagent-billing/migrations"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("users"),
		postgres.WithUsername("users"),
		postgres.WithPassword("users"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = core.Migrate(db.DB, migrations.FS)
	require.NoError(t, err)

	return db
}

func newUser(email string) *User {
	return &User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: "hash",
		Name:         "Test",
		Role:         RoleUser,
	}
}

func TestRepositoryCreateDuplicateEmail(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newUser("dup@example.com")))

	err := repo.Create(ctx, newUser("dup@example.com"))
	assert.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestRepositoryStripeCustomerID(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	u := newUser("billing@example.com")
	require.NoError(t, repo.Create(ctx, u))

	stored, err := repo.SetStripeCustomerID(ctx, u.ID, "cus_first")
	require.NoError(t, err)
	assert.Equal(t, "cus_first", stored)

	stored, err = repo.SetStripeCustomerID(ctx, u.ID, "cus_second")
	require.NoError(t, err)
	assert.Equal(t, "cus_first", stored)

	found, err := repo.GetByStripeCustomerID(ctx, "cus_first")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	other := newUser("other@example.com")
	require.NoError(t, repo.Create(ctx, other))
	_, err = repo.SetStripeCustomerID(ctx, other.ID, "cus_first")
	assert.ErrorIs(t, err, core.ErrDuplicateKey)

	_, err = repo.SetStripeCustomerID(ctx, uuid.New().String(), "cus_ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, repo.SoftDelete(ctx, u.ID))
	found, err = repo.GetByStripeCustomerID(ctx, "cus_first")
	require.NoError(t, err)
	assert.True(t, found.IsDeleted())
}

func TestRepositoryListFiltersByRole(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	admin := newUser("admin@example.com")
	admin.Role = RoleAdmin
	require.NoError(t, repo.Create(ctx, admin))
	require.NoError(t, repo.Create(ctx, newUser("plain_user@example.com")))

	users, total, err := repo.List(ctx, ListUsersParams{Role: RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, users, 1)
	assert.Equal(t, admin.ID, users[0].ID)

	users, total, err = repo.List(ctx, ListUsersParams{Search: "plain_"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, users, 1)
}
