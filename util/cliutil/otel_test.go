package cliutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupTracing(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := SetupTracing(ctx, "triectl")
	require.NoError(t, err)
	assert.NoError(shutdown(ctx))

	prev := otel.GetTracerProvider()

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:4318")
	shutdown, err = SetupTracing(ctx, "triectl")
	require.NoError(t, err)
	assert.NotEqual(prev, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	// nothing was traced, so nothing is exported
	assert.NoError(shutdown(ctx))
}
