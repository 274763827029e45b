// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/voiceagent-billing/internal/billing"
	"github.com/carterperez-dev/voiceagent-billing/internal/core"
	"github.com/carterperez-dev/voiceagent-billing/internal/health"
)

const (
	defaultRecentEvents = 20
	maxRecentEvents     = 100
	statsTimeout        = 5 * time.Second
)

type BillingOverview interface {
	Overview(ctx context.Context, recent int) (*billing.Overview, error)
}

type DependencyChecker interface {
	Check(ctx context.Context) []health.HealthCheck
}

type HandlerConfig struct {
	Checks     DependencyChecker
	DBStats    func() sql.DBStats
	RedisStats func() *redis.PoolStats
	Billing    BillingOverview
}

// Handler serves operator endpoints. Every field is optional so a partial
// deployment still answers.
type Handler struct {
	cfg HandlerConfig
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(authenticator, adminOnly)

		r.Get("/stats", h.GetSystemStats)
		r.Get("/stats/runtime", h.GetRuntimeStats)
		r.Get("/billing", h.GetBillingOverview)
	})
}

// GetSystemStats combines dependency health, connection pools and the
// subscription status breakdown. A failing billing query leaves
// subscriptions empty instead of failing the whole report.
func (h *Handler) GetSystemStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	resp := SystemStatsResponse{
		Runtime:  readRuntime(),
		Database: dbPool(h.cfg.DBStats),
		Redis:    redisPool(h.cfg.RedisStats),
	}

	if h.cfg.Checks != nil {
		resp.Dependencies = h.cfg.Checks.Check(ctx)
	}

	if h.cfg.Billing != nil {
		if overview, err := h.cfg.Billing.Overview(ctx, 0); err == nil {
			resp.Subscriptions = overview.SubscriptionsByStatus
		}
	}

	core.OK(w, resp)
}

func (h *Handler) GetRuntimeStats(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, readRuntime())
}

// GetBillingOverview reports subscription counts by status and the most
// recently processed webhook events.
func (h *Handler) GetBillingOverview(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Billing == nil {
		core.NotFound(w, "billing")
		return
	}

	recent := defaultRecentEvents
	if n, err := strconv.Atoi(r.URL.Query().Get("events")); err == nil && n > 0 {
		recent = min(n, maxRecentEvents)
	}

	overview, err := h.cfg.Billing.Overview(r.Context(), recent)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, billing.ToOverviewResponse(overview))
}

func readRuntime() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeStats{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     m.Alloc,
		MemSys:       m.Sys,
		NumGC:        m.NumGC,
	}
}

func dbPool(stats func() sql.DBStats) *DBPoolStats {
	if stats == nil {
		return nil
	}

	s := stats()
	return &DBPoolStats{
		MaxOpen:      s.MaxOpenConnections,
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration.String(),
	}
}

func redisPool(stats func() *redis.PoolStats) *RedisPoolStats {
	if stats == nil {
		return nil
	}

	s := stats()
	return &RedisPoolStats{
		Hits:       s.Hits,
		Misses:     s.Misses,
		Timeouts:   s.Timeouts,
		TotalConns: s.TotalConns,
		IdleConns:  s.IdleConns,
	}
}
