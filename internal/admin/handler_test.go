// AngelaMos | 2026
// handler_test.go

package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/voiceagent-billing/internal/billing"
	"github.com/carterperez-dev/voiceagent-billing/internal/health"
)

type stubOverview struct {
	recent   int
	overview *billing.Overview
	err      error
}

func (s *stubOverview) Overview(_ context.Context, recent int) (*billing.Overview, error) {
	s.recent = recent
	return s.overview, s.err
}

func passthrough(next http.Handler) http.Handler { return next }

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r, passthrough, passthrough)
	return r
}

func TestBillingOverview(t *testing.T) {
	processed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub := &stubOverview{overview: &billing.Overview{
		SubscriptionsByStatus: map[billing.Status]int{
			billing.StatusActive:   3,
			billing.StatusCanceled: 1,
		},
		RecentEvents: []billing.WebhookEvent{{
			ID:             "evt_1",
			Type:           "customer.subscription.deleted",
			EventCreatedAt: processed.Add(-time.Minute),
			ProcessedAt:    processed,
		}},
	}}
	router := newRouter(NewHandler(HandlerConfig{Billing: stub}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/billing?events=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxRecentEvents, stub.recent)

	var resp struct {
		Data billing.OverviewResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.SubscriptionsByStatus[billing.StatusActive])
	require.Len(t, resp.Data.RecentEvents, 1)
	assert.Equal(t, "evt_1", resp.Data.RecentEvents[0].ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/billing", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultRecentEvents, stub.recent)
}

func TestBillingOverviewFailure(t *testing.T) {
	stub := &stubOverview{err: errors.New("db down")}
	router := newRouter(NewHandler(HandlerConfig{Billing: stub}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/billing", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type stubChecks []health.HealthCheck

func (s stubChecks) Check(context.Context) []health.HealthCheck { return s }

func TestSystemStats(t *testing.T) {
	router := newRouter(NewHandler(HandlerConfig{
		Checks: stubChecks{
			{Name: "database", Healthy: true},
			{Name: "redis", Healthy: false, Message: "ping failed"},
		},
		DBStats: func() sql.DBStats { return sql.DBStats{MaxOpenConnections: 25, InUse: 2} },
		Billing: &stubOverview{overview: &billing.Overview{
			SubscriptionsByStatus: map[billing.Status]int{billing.StatusPastDue: 4},
		}},
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data SystemStatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Dependencies, 2)
	assert.False(t, resp.Data.Dependencies[1].Healthy)
	require.NotNil(t, resp.Data.Database)
	assert.Equal(t, 25, resp.Data.Database.MaxOpen)
	assert.Nil(t, resp.Data.Redis)
	assert.Equal(t, 4, resp.Data.Subscriptions[billing.StatusPastDue])
}

func TestRuntimeStats(t *testing.T) {
	router := newRouter(NewHandler(HandlerConfig{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"go_version"`)
}
