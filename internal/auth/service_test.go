// AngelaMos | 2026
// service_test.go

package auth

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/voiceagent-billing/internal/config"
	"github.com/carterperez-dev/voiceagent-billing/internal/core"
)

type memoryTokens struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{tokens: map[string]*RefreshToken{}}
}

func (m *memoryTokens) Create(_ context.Context, token *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	token.CreatedAt = time.Now()
	cp := *token
	m.tokens[token.ID] = &cp
	return nil
}

func (m *memoryTokens) FindByHash(_ context.Context, hash string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memoryTokens) Rotate(_ context.Context, previousID string, next *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.tokens[previousID]
	if !ok || prev.IsUsed || prev.RevokedAt != nil {
		return core.ErrConflict
	}
	now := time.Now()
	prev.IsUsed = true
	prev.UsedAt = &now
	prev.ReplacedByID = &next.ID

	next.CreatedAt = now
	cp := *next
	m.tokens[next.ID] = &cp
	return nil
}

func (m *memoryTokens) revokeWhere(match func(*RefreshToken) bool) {
	now := time.Now()
	for _, t := range m.tokens {
		if match(t) && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
}

func (m *memoryTokens) RevokeByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeWhere(func(t *RefreshToken) bool { return t.ID == id })
	return nil
}

func (m *memoryTokens) RevokeByFamilyID(_ context.Context, familyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeWhere(func(t *RefreshToken) bool { return t.FamilyID == familyID })
	return nil
}

func (m *memoryTokens) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeWhere(func(t *RefreshToken) bool { return t.UserID == userID })
	return nil
}

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*UserInfo
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			return u, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memoryUsers) GetByID(_ context.Context, id string) (*UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, core.ErrNotFound
}

func (m *memoryUsers) Create(_ context.Context, email, hash, name string) (*UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			return nil, core.ErrDuplicateKey
		}
	}
	u := &UserInfo{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(email),
		Name:         name,
		PasswordHash: hash,
		Role:         "user",
		CreatedAt:    time.Now(),
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memoryUsers) UpdatePassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryTokens) {
	t.Helper()

	dir := t.TempDir()
	priv := filepath.Join(dir, "private.pem")
	pub := filepath.Join(dir, "public.pem")
	require.NoError(t, GenerateKeyPair(priv, pub))

	jwtManager, err := NewJWTManager(config.JWTConfig{
		PrivateKeyPath:     priv,
		PublicKeyPath:      pub,
		AccessTokenExpire:  15 * time.Minute,
		RefreshTokenExpire: time.Hour,
		Issuer:             "voiceagent-billing",
		Audience:           "voiceagent-api",
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens := newMemoryTokens()
	users := &memoryUsers{users: map[string]*UserInfo{}}

	return NewService(tokens, jwtManager, users, rdb), tokens
}

func TestRegisterLoginAndVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterRequest{
		Email:    "Owner@Example.com",
		Password: "correct-horse",
		Name:     "Owner",
	}, "test", "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", reg.User.Email)
	assert.Equal(t, 900, reg.Tokens.ExpiresIn)

	_, err = svc.Register(ctx, RegisterRequest{
		Email:    "owner@example.com",
		Password: "another-pass",
		Name:     "Dup",
	}, "test", "127.0.0.1")
	assert.ErrorIs(t, err, ErrEmailExists)

	_, err = svc.Login(ctx, LoginRequest{Email: "owner@example.com", Password: "wrong-pass"}, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	login, err := svc.Login(ctx, LoginRequest{Email: "owner@example.com", Password: "correct-horse"}, "", "")
	require.NoError(t, err)

	claims, err := svc.VerifyAccessToken(ctx, login.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)
	assert.Equal(t, "user", claims.Role)
	assert.NotEmpty(t, claims.TokenID)
}

func TestLogoutBlacklistsAccessToken(t *testing.T) {
	svc, tokens := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterRequest{
		Email: "a@example.com", Password: "password-1", Name: "A",
	}, "", "")
	require.NoError(t, err)

	claims, err := svc.VerifyAccessToken(ctx, reg.Tokens.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, reg.Tokens.RefreshToken, claims))

	_, err = svc.VerifyAccessToken(ctx, reg.Tokens.AccessToken)
	assert.ErrorIs(t, err, core.ErrTokenRevoked)

	stored, err := tokens.FindByHash(ctx, core.HashToken(reg.Tokens.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, TokenRevoked, stored.State(time.Now()))
}

func TestRefreshRotationAndReuseDetection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterRequest{
		Email: "b@example.com", Password: "password-1", Name: "B",
	}, "", "")
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, reg.Tokens.RefreshToken, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, reg.Tokens.RefreshToken, rotated.Tokens.RefreshToken)

	_, err = svc.Refresh(ctx, reg.Tokens.RefreshToken, "", "")
	assert.ErrorIs(t, err, ErrTokenReuse)

	_, err = svc.Refresh(ctx, rotated.Tokens.RefreshToken, "", "")
	assert.ErrorIs(t, err, core.ErrTokenRevoked)

	_, err = svc.Refresh(ctx, "unknown", "", "")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestConcurrentRefreshIssuesOneToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterRequest{
		Email: "c@example.com", Password: "password-1", Name: "C",
	}, "", "")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Refresh(ctx, reg.Tokens.RefreshToken, "", ""); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
}

func TestRefreshTokenState(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)

	tests := []struct {
		name  string
		token RefreshToken
		want  TokenState
	}{
		{"active", RefreshToken{ExpiresAt: now.Add(time.Hour)}, TokenActive},
		{"expired", RefreshToken{ExpiresAt: past}, TokenExpired},
		{"revoked", RefreshToken{ExpiresAt: now.Add(time.Hour), RevokedAt: &past}, TokenRevoked},
		{"used wins over revoked", RefreshToken{ExpiresAt: past, IsUsed: true, RevokedAt: &past}, TokenUsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.State(now))
		})
	}
}
