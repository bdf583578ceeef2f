// Package wire holds the JSON frames spoken by both bridge sidecars and
// the translation of their events into driver.Sink calls.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"salesbot-wa-be/pkg/whatsapp/driver"
)

// Ops understood by the sidecars.
const (
	OpPair            = "pair"
	OpSendText        = "send_text"
	OpSendMedia       = "send_media"
	OpCheckRegistered = "check_registered"
	OpClose           = "close"
)

// Unsolicited events pushed by the sidecars.
const (
	EvQR           = "qr"
	EvReady        = "ready"
	EvDisconnected = "disconnected"
	EvAuthFailure  = "auth_failure"
	EvMessage      = "message"
	EvAck          = "ack"
	EvCreds        = "creds"
)

type Command struct {
	ID   string      `json:"id"`
	Op   string      `json:"op"`
	Args interface{} `json:"args,omitempty"`
}

type Response struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Frame is anything read from a stream transport. Event is set for pushes,
// otherwise the frame answers the command with the same ID.
type Frame struct {
	Response
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type PairArgs struct {
	Creds []byte `json:"creds,omitempty"`
}

type SendTextArgs struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type SendMediaArgs struct {
	To      string `json:"to"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

type CheckArgs struct {
	To string `json:"to"`
}

type SendResult struct {
	ID string `json:"id"`
}

type CheckResult struct {
	Registered bool `json:"registered"`
}

type QRData struct {
	Code string `json:"code"`
}

type ReasonData struct {
	Reason string `json:"reason"`
}

type CredsData struct {
	Blob []byte `json:"blob"`
}

type AckData struct {
	ID  string `json:"id"`
	To  string `json:"to"`
	Ack int    `json:"ack"`
}

type MessageData struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	FromMe    bool   `json:"fromMe"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MimeType  string `json:"mimetype,omitempty"`
	FileName  string `json:"filename,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

var mediaKinds = map[string]driver.MediaKind{
	"image":    driver.MediaImage,
	"sticker":  driver.MediaImage,
	"video":    driver.MediaVideo,
	"audio":    driver.MediaAudio,
	"ptt":      driver.MediaAudio,
	"document": driver.MediaDocument,
}

// Envelope converts a pushed message. Own messages and group traffic are
// reported as not deliverable.
func (m MessageData) Envelope(now time.Time) (driver.InboundEnvelope, bool) {
	if m.FromMe || m.From == "" || driver.IsGroupJID(m.From) {
		return driver.InboundEnvelope{}, false
	}
	env := driver.InboundEnvelope{
		SenderID:           m.From,
		RawContent:         m.Body,
		TransportMessageID: m.ID,
		ReceivedAt:         now,
	}
	if m.Timestamp > 0 {
		env.ReceivedAt = time.Unix(m.Timestamp, 0)
	}
	if kind, ok := mediaKinds[m.Type]; ok {
		env.Media = &driver.MediaDescriptor{
			Kind: kind, Ref: m.MediaURL, MimeType: m.MimeType, FileName: m.FileName, Caption: m.Caption,
		}
		// media bodies carry the base64 payload on some sidecars
		env.RawContent = m.Caption
	}
	return env, true
}

// Handler receives the credential blobs pushed by a sidecar.
type Handler struct {
	Sink      driver.Sink
	SaveCreds func(blob []byte)
	Now       func() time.Time
}

// Dispatch decodes one pushed event and forwards it.
func (h Handler) Dispatch(event string, data json.RawMessage) error {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	switch event {
	case EvQR:
		var d QRData
		if err := decode(data, &d); err != nil {
			return err
		}
		h.Sink.OnConnectionEvent(driver.ConnectionEvent{Type: driver.EventQRIssued, QR: d.Code, At: now()})
	case EvReady:
		h.Sink.OnConnectionEvent(driver.ConnectionEvent{Type: driver.EventReady, At: now()})
	case EvDisconnected, EvAuthFailure:
		var d ReasonData
		if err := decode(data, &d); err != nil {
			return err
		}
		t := driver.EventDisconnected
		if event == EvAuthFailure {
			t = driver.EventAuthFailed
		}
		h.Sink.OnConnectionEvent(driver.ConnectionEvent{Type: t, Reason: d.Reason, At: now()})
	case EvMessage:
		var d MessageData
		if err := decode(data, &d); err != nil {
			return err
		}
		if env, ok := d.Envelope(now()); ok {
			h.Sink.OnInbound(env)
		}
	case EvAck:
		var d AckData
		if err := decode(data, &d); err != nil {
			return err
		}
		h.Sink.OnDeliveryStatus(driver.DeliveryStatus{
			MessageID: d.ID, RecipientID: driver.PhoneFromJID(d.To), Status: driver.AckFromCode(d.Ack),
		})
	case EvCreds:
		var d CredsData
		if err := decode(data, &d); err != nil {
			return err
		}
		if h.SaveCreds != nil && len(d.Blob) > 0 {
			h.SaveCreds(d.Blob)
		}
	default:
		return fmt.Errorf("unknown event %q", event)
	}
	return nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}
