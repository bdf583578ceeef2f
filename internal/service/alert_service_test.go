package service

import (
	"context"
	"testing"
	"time"

	"salesbot-wa-be/internal/entity"
	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/pkg/mailer"
	"salesbot-wa-be/pkg/whatsapp/health"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailRecorder struct {
	to     []string
	alerts []mailer.HealthAlert
}

func (m *mailRecorder) SendHealthAlert(to []string, a mailer.HealthAlert) error {
	m.to = to
	m.alerts = append(m.alerts, a)
	return nil
}

func TestAlertServiceMailsSnapshot(t *testing.T) {
	rec := &mailRecorder{}
	svc := NewAlertService(rec, []string{"ops@example.com"}, 24*time.Hour, logger.NewNopLogger())

	snap := health.Snapshot{Score: 40, Rating: health.RatingCritical, Stats: entity.HealthStats{Total: 20, Errors: 12, Reconnections: 6}}
	require.NoError(t, svc.NotifyHealthAlert(context.Background(), snap))

	require.Len(t, rec.alerts, 1)
	assert.Equal(t, []string{"ops@example.com"}, rec.to)
	assert.Equal(t, "critical", rec.alerts[0].Rating)
	assert.Equal(t, 12, rec.alerts[0].Errors)
	assert.Equal(t, "24h0m0s", rec.alerts[0].Window)
}

func TestAlertServiceWithoutRecipients(t *testing.T) {
	rec := &mailRecorder{}
	svc := NewAlertService(rec, nil, time.Hour, logger.NewNopLogger())
	assert.NoError(t, svc.NotifyHealthAlert(context.Background(), health.Snapshot{}))
	assert.Empty(t, rec.alerts)
}
