package session

import (
	"time"

	"salesbot-wa-be/pkg/whatsapp/driver"
)

type State string

const (
	StateUninitialized   State = "uninitialized"
	StateInitializing    State = "initializing"
	StatePairingRequired State = "pairing_required"
	StateReady           State = "ready"
	StateDegraded        State = "degraded"
	StateReinitializing  State = "reinitializing"
)

// Busy reports states in which a driver startup is under way.
func (s State) Busy() bool {
	return s == StateInitializing || s == StateReinitializing
}

// Session is the single connection record, owned by the Manager.
type Session struct {
	State               State
	ActiveDriverKind    driver.Kind
	LastReadyAt         *time.Time
	ConsecutiveFailures int
	StaleFlag           bool
}

// PairingChallenge is the code a human scans to authorize the session.
type PairingChallenge struct {
	RawPayload    string
	RenderedImage []byte
	IssuedAt      time.Time
}

// Status is a read-only snapshot returned to operators.
type Status struct {
	Ready               bool        `json:"ready"`
	State               State       `json:"state"`
	ActiveDriverKind    driver.Kind `json:"activeDriverKind"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	StaleFlag           bool        `json:"staleFlag"`
	LastReadyAt         *time.Time  `json:"lastReadyAt"`
	ReinitInFlight      bool        `json:"reinitInFlight"`
	HasPairingChallenge bool        `json:"hasPairingChallenge"`
}

type Cause string

const (
	CauseConnect       Cause = "connect"
	CauseRestart       Cause = "restart"
	CauseDriverStarted Cause = "driver_started"
	CauseFailover      Cause = "failover"
	CauseInitFailed    Cause = "init_failed"
	CauseQR            Cause = "qr_issued"
	CauseReady         Cause = "ready"
	CauseDisconnected  Cause = "disconnected"
	CauseAuthFailed    Cause = "auth_failed"
	CauseTeardown      Cause = "teardown"
	CauseLogout        Cause = "logout"
)

// Transition describes one state change, or a notable step within a state
// (From == To) such as a failover.
type Transition struct {
	From                State
	To                  State
	Cause               Cause
	Driver              driver.Kind
	Reason              string
	ConsecutiveFailures int
	At                  time.Time
}

// Observer is told about every transition, after the manager has released
// its lock. OnTransition runs on the goroutine that caused the transition
// and must not wait for a restart to finish.
type Observer interface {
	OnTransition(t Transition)
}

// Renderer turns a raw pairing payload into an image.
type Renderer interface {
	Render(payload string) ([]byte, error)
}
