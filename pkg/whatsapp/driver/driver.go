package driver

import (
	"context"
	"time"
)

// Kind identifies a transport variant.
type Kind string

const (
	KindNone     Kind = "none"
	KindPrimary  Kind = "primary"
	KindFallback Kind = "fallback"
)

// Known lists every variant that may own stored credentials.
func Known() []Kind { return []Kind{KindPrimary, KindFallback} }

// Capabilities describes the optional operations a driver offers.
type Capabilities struct {
	Media           bool
	CheckRegistered bool
}

type EventType string

const (
	EventQRIssued     EventType = "qr_issued"
	EventReady        EventType = "ready"
	EventDisconnected EventType = "disconnected"
	EventAuthFailed   EventType = "auth_failed"
)

// ConnectionEvent is emitted by a driver whenever its link changes.
type ConnectionEvent struct {
	Type   EventType
	QR     string
	Reason string
	At     time.Time
}

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// MediaDescriptor points at media attached to an inbound message. Ref is
// whatever the transport needs to fetch it (usually a URL or a path).
type MediaDescriptor struct {
	Kind     MediaKind
	Ref      string
	MimeType string
	FileName string
	Caption  string
}

// InboundEnvelope is a message received from a customer.
type InboundEnvelope struct {
	SenderID           string
	RawContent         string
	Media              *MediaDescriptor
	TransportMessageID string
	ReceivedAt         time.Time
}

// IsAudio reports whether the envelope carries voice or audio media.
func (e InboundEnvelope) IsAudio() bool {
	return e.Media != nil && e.Media.Kind == MediaAudio
}

// DeliveryStatus is the transport's acknowledgement for an outbound message.
type DeliveryStatus struct {
	MessageID   string
	RecipientID string
	Status      AckStatus
}

// Sink receives everything a driver observes. Implementations must not
// block for long; drivers call these from their read loop.
type Sink interface {
	OnConnectionEvent(ev ConnectionEvent)
	OnInbound(env InboundEnvelope)
	OnDeliveryStatus(st DeliveryStatus)
}

// Driver is the capability set shared by every transport variant.
type Driver interface {
	Kind() Kind
	Capabilities() Capabilities

	// Pair starts the connection and returns once the transport has accepted
	// the session bootstrap. Pairing progress and readiness are reported
	// through sink afterwards.
	Pair(ctx context.Context, sink Sink) error

	SendText(ctx context.Context, recipient, content string) (string, error)
	SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error)
	CheckRegistered(ctx context.Context, recipient string) (bool, error)

	Close(ctx context.Context) error
}

// Factory builds a fresh driver for every startup attempt.
type Factory interface {
	Kind() Kind
	New() Driver
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc struct {
	K  Kind
	Fn func() Driver
}

func (f FactoryFunc) Kind() Kind  { return f.K }
func (f FactoryFunc) New() Driver { return f.Fn() }
