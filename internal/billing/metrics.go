// AngelaMos | 2026
// metrics.go

package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeSkipped   = "skipped"
	outcomeStale     = "stale"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

var (
	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Stripe webhook deliveries by event type and outcome",
		},
		[]string{"type", "outcome"},
	)

	checkoutSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_checkout_sessions_total",
			Help: "Checkout session attempts by outcome",
		},
		[]string{"plan", "outcome"},
	)
)
