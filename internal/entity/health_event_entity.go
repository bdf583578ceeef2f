package entity

import (
	"time"

	"github.com/google/uuid"
)

type HealthSeverity string

const (
	SeverityInfo    HealthSeverity = "info"
	SeverityWarning HealthSeverity = "warning"
	SeverityError   HealthSeverity = "error"
)

// Health event kinds. Reconnection and Disconnected feed the score
// penalties, every error-severity event feeds the error rate.
const (
	HealthKindConnecting       = "connecting"
	HealthKindConnected        = "connected"
	HealthKindPairingRequired  = "pairing_required"
	HealthKindReady            = "ready"
	HealthKindDisconnected     = "disconnected"
	HealthKindAuthFailed       = "auth_failed"
	HealthKindInitFailed       = "init_failed"
	HealthKindFailover         = "failover"
	HealthKindReconnection     = "reconnection"
	HealthKindReinitScheduled  = "reinit_scheduled"
	HealthKindSendFailure      = "send_failure"
	HealthKindDroppedNotReady  = "dropped_not_ready"
	HealthKindMediaUnsupported = "media_unsupported"
	HealthKindTranscription    = "transcription_failed"
	HealthKindTeardown         = "teardown"
)

type HealthEvent struct {
	Id                  uuid.UUID
	Kind                string
	Severity            HealthSeverity
	Context             map[string]interface{}
	ConsecutiveFailures int
	CreatedAt           time.Time
}

// HealthStats aggregates the events of a window.
type HealthStats struct {
	Since         time.Time
	Total         int
	Errors        int
	Reconnections int
	Disconnects   int
	ByKind        map[string]int
}

// Add folds ev into the aggregate.
func (s *HealthStats) Add(ev *HealthEvent) {
	if s.ByKind == nil {
		s.ByKind = make(map[string]int)
	}
	s.Total++
	s.ByKind[ev.Kind]++
	if ev.Severity == SeverityError {
		s.Errors++
	}
	switch ev.Kind {
	case HealthKindReconnection:
		s.Reconnections++
	case HealthKindDisconnected:
		s.Disconnects++
	}
}
