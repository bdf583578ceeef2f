package tracer

import (
	"context"
	"testing"

	"salesbot-wa-be/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracerEnabled(t *testing.T) {
	shutdown, err := InitTracer(config.TracingConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4318",
		ServiceName: "salesbot-wa-test",
		SampleRatio: 5,
	}, "test")
	require.NoError(t, err)
	// nothing was sampled, so nothing is exported on shutdown
	assert.NoError(t, shutdown(context.Background()))
}
