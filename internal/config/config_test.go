package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PIPELINE_DEDUP_WINDOW", "")
	cfg := Load()

	assert.Equal(t, 15*time.Second, cfg.Pipeline.DedupWindow)
	assert.Equal(t, time.Hour, cfg.Pipeline.StaleAfter)
	assert.Equal(t, 3, cfg.Health.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Health.ReconnectDelay)
	assert.True(t, cfg.WhatsApp.FallbackEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PIPELINE_DEDUP_WINDOW", "20000")
	t.Setenv("HEALTH_RECONNECT_DELAY", "2s")
	t.Setenv("PIPELINE_MAINTENANCE", "true")
	t.Setenv("HEALTH_ALERT_EMAILS", "ops@example.com, ,sales@example.com")
	t.Setenv("SMTP_PORT", "not-a-number")

	cfg := Load()
	assert.Equal(t, 20*time.Second, cfg.Pipeline.DedupWindow)
	assert.Equal(t, 2*time.Second, cfg.Health.ReconnectDelay)
	assert.True(t, cfg.Pipeline.Maintenance)
	assert.Equal(t, []string{"ops@example.com", "sales@example.com"}, cfg.SMTP.AlertEmails)
	assert.Equal(t, 587, cfg.SMTP.Port)
}
