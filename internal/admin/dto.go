// AngelaMos | 2026
// dto.go

package admin

import (
	"github.com/carterperez-dev/voiceagent-billing/internal/billing"
	"github.com/carterperez-dev/voiceagent-billing/internal/health"
)

type SystemStatsResponse struct {
	Dependencies  []health.HealthCheck   `json:"dependencies"`
	Database      *DBPoolStats           `json:"database,omitempty"`
	Redis         *RedisPoolStats        `json:"redis,omitempty"`
	Subscriptions map[billing.Status]int `json:"subscriptions,omitempty"`
	Runtime       RuntimeStats           `json:"runtime"`
}

type DBPoolStats struct {
	MaxOpen      int    `json:"max_open"`
	Open         int    `json:"open"`
	InUse        int    `json:"in_use"`
	Idle         int    `json:"idle"`
	WaitCount    int64  `json:"wait_count"`
	WaitDuration string `json:"wait_duration"`
}

type RedisPoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
}

type RuntimeStats struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_bytes"`
	MemSys       uint64 `json:"mem_sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
}
