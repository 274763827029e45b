// AngelaMos | 2026
// telemetry_test.go

package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/carterperez-dev/voiceagent-billing/internal/config"
)

func TestSpanHelpers(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ctx, span := provider.Tracer("test").Start(context.Background(), "webhook")
	assert.Len(t, TraceIDFromContext(ctx), 32)

	AddSpanEvent(ctx, "publish failed", attribute.String("routing_key", "billing.payment"))
	SetSpanError(ctx, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)

	var names []string
	for _, ev := range ended[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "publish failed")
	assert.Contains(t, names, "exception")
}

func TestTraceIDWithoutSpan(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
}

func TestTelemetryDisabled(t *testing.T) {
	tel, err := NewTelemetry(context.Background(),
		config.OtelConfig{Enabled: false},
		config.AppConfig{Name: "billing"},
	)
	require.NoError(t, err)
	assert.NoError(t, tel.Shutdown(context.Background()))

	var nilTel *Telemetry
	assert.NoError(t, nilTel.Shutdown(context.Background()))
}
