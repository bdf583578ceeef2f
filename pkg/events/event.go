package events

import (
	"encoding/json"
	"time"

	"salesbot-wa-be/pkg/broadcast"
)

// Event defines the contract for everything leaving the process on the
// external bus.
type Event interface {
	// EventType returns the subject suffix, e.g. "wa.ready".
	EventType() string

	Payload() map[string]interface{}

	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// FromBroadcast maps a hub event onto the bus. The typed payload is
// flattened to a map through its JSON form.
func FromBroadcast(ev broadcast.Event) BaseEvent {
	data := map[string]interface{}{"at": ev.At.UTC().Format(time.RFC3339Nano)}
	if ev.Data != nil {
		if raw, err := json.Marshal(ev.Data); err == nil {
			var m map[string]interface{}
			if json.Unmarshal(raw, &m) == nil {
				for k, v := range m {
					data[k] = v
				}
			}
		}
	}
	return BaseEvent{Type: "wa." + string(ev.Type), Data: data, OccurredAt: ev.At}
}

// OutboundCommand asks the process to send a message on behalf of another
// service (campaigns, the operator panel).
type OutboundCommand struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	MediaRef  string `json:"mediaRef,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

const OutboundCommandType = "wa.outbound.send"

// DecodeOutbound reads an OutboundCommand back out of a bus payload.
func DecodeOutbound(ev Event) (OutboundCommand, error) {
	var cmd OutboundCommand
	raw, err := json.Marshal(ev.Payload())
	if err != nil {
		return cmd, err
	}
	err = json.Unmarshal(raw, &cmd)
	return cmd, err
}
