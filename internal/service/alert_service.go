package service

import (
	"context"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/pkg/mailer"
	"salesbot-wa-be/pkg/whatsapp/health"
)

// AlertService mails operators when the connection health needs attention.
type AlertService struct {
	mailer     mailer.IEmailService
	recipients []string
	window     time.Duration
	logger     logger.ILogger
}

func NewAlertService(m mailer.IEmailService, recipients []string, window time.Duration, log logger.ILogger) *AlertService {
	return &AlertService{mailer: m, recipients: recipients, window: window, logger: log}
}

func (s *AlertService) NotifyHealthAlert(ctx context.Context, snap health.Snapshot) error {
	if s.mailer == nil || len(s.recipients) == 0 {
		s.logger.Warn("ALERT", "Health alert raised but no recipients configured", map[string]interface{}{"score": snap.Score, "rating": snap.Rating})
		return nil
	}
	err := s.mailer.SendHealthAlert(s.recipients, mailer.HealthAlert{
		Score:         snap.Score,
		Rating:        string(snap.Rating),
		Errors:        snap.Stats.Errors,
		Reconnections: snap.Stats.Reconnections,
		Disconnects:   snap.Stats.Disconnects,
		Total:         snap.Stats.Total,
		Window:        s.window.String(),
	})
	if err != nil {
		s.logger.Error("ALERT", "Failed to send health alert", map[string]interface{}{"error": err.Error()})
		return err
	}
	s.logger.Info("ALERT", "Health alert sent", map[string]interface{}{"recipients": len(s.recipients), "score": snap.Score})
	return nil
}
