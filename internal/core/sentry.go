// AngelaMos | 2026
// sentry.go

package core

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/carterperez-dev/voiceagent-billing/internal/config"
)

// InitSentry configures the global Sentry client. With an empty DSN it
// returns a no-op flush and reporting stays disabled.
func InitSentry(
	sentryCfg config.SentryConfig,
	appCfg config.AppConfig,
) (func(), error) {
	if sentryCfg.DSN == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              sentryCfg.DSN,
		Environment:      appCfg.Environment,
		Release:          appCfg.Name + "@" + appCfg.Version,
		EnableTracing:    sentryCfg.TracesSampleRate > 0,
		TracesSampleRate: sentryCfg.TracesSampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureError reports err on the request hub when one is attached to ctx.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
