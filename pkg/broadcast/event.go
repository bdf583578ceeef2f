package broadcast

import "time"

// EventType names a broadcast event. The JSON payload of each type is
// described by the matching *Payload struct.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventPairingChallenge EventType = "pairing_challenge"
	EventReady            EventType = "ready"
	EventDisconnected     EventType = "disconnected"
	EventRestarting       EventType = "restarting"
	EventLoggedOut        EventType = "logged_out"
	EventInboundMessage   EventType = "inbound_message"
	EventOutboundMessage  EventType = "outbound_message"
	EventDeliveryStatus   EventType = "delivery_status"
	EventHealthChange     EventType = "health_change"
)

// Event is what subscribers receive. Origin is empty for events raised in
// this process and carries the instance id for relayed ones.
type Event struct {
	Type   EventType   `json:"type"`
	Data   interface{} `json:"data,omitempty"`
	At     time.Time   `json:"at"`
	Origin string      `json:"origin,omitempty"`
}

// Local reports whether ev was raised in this process.
func (ev Event) Local() bool { return ev.Origin == "" }

type ConnectedPayload struct {
	Driver string `json:"driver"`
}

type PairingChallengePayload struct {
	// RenderedImage is a data URL (image/png;base64). Empty when the
	// challenge was cleared.
	RenderedImage string    `json:"renderedImage"`
	IssuedAt      time.Time `json:"issuedAt"`
}

type ReadyPayload struct {
	Driver string `json:"driver"`
}

type DisconnectedPayload struct {
	Reason string `json:"reason"`
}

type RestartingPayload struct {
	ForceCleanup bool `json:"forceCleanup"`
}

type InboundMessagePayload struct {
	SenderID string    `json:"senderId"`
	Preview  string    `json:"preview"`
	At       time.Time `json:"at"`
}

type OutboundMessagePayload struct {
	RecipientID string    `json:"recipientId"`
	Preview     string    `json:"preview"`
	At          time.Time `json:"at"`
	Ok          bool      `json:"ok"`
}

type DeliveryStatusPayload struct {
	MessageID   string `json:"messageId"`
	RecipientID string `json:"recipientId"`
	Status      string `json:"status"`
}

type HealthChangePayload struct {
	Score  float64 `json:"score"`
	Rating string  `json:"rating"`
}

// Publisher is the write side handed to the session manager, pipeline
// and health tracker.
type Publisher interface {
	Publish(ev Event)
}

// Preview trims s to at most n runes for message previews.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
