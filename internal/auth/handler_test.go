// AngelaMos | 2026
// handler_test.go

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/voiceagent-billing/internal/middleware"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	svc, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(svc).RegisterRoutes(r, middleware.Authenticator(svc), nil)
	return r
}

func post(h http.Handler, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthFlow(t *testing.T) {
	r := newTestRouter(t)
	creds := `{"email":"owner@example.com","password":"correct-horse","name":"Owner"}`

	rec := post(r, "/auth/register", creds, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var reg struct {
		Data AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))

	rec = post(r, "/auth/register", creds, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post(r, "/auth/login", `{"email":"owner@example.com","password":"wrong-horse"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(r, "/auth/login", `{"email":"not-an-email","password":"correct-horse"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	refresh := `{"refresh_token":"` + reg.Data.Tokens.RefreshToken + `"}`
	rec = post(r, "/auth/refresh", refresh, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = post(r, "/auth/refresh", refresh, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "TOKEN_REUSE_DETECTED")

	rec = post(r, "/auth/logout", "", reg.Data.Tokens.AccessToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = post(r, "/auth/logout", "", reg.Data.Tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
