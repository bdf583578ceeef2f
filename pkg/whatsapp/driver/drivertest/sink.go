package drivertest

import (
	"sync"

	"salesbot-wa-be/pkg/whatsapp/driver"
)

// Sink records everything a driver reports.
type Sink struct {
	mu       sync.Mutex
	events   []driver.ConnectionEvent
	inbound  []driver.InboundEnvelope
	statuses []driver.DeliveryStatus
}

func (s *Sink) OnConnectionEvent(ev driver.ConnectionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *Sink) OnInbound(env driver.InboundEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = append(s.inbound, env)
}

func (s *Sink) OnDeliveryStatus(st driver.DeliveryStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *Sink) Events() []driver.ConnectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]driver.ConnectionEvent(nil), s.events...)
}

// EventTypes lists the types of the recorded connection events in order.
func (s *Sink) EventTypes() []driver.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]driver.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *Sink) Inbound() []driver.InboundEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]driver.InboundEnvelope(nil), s.inbound...)
}

func (s *Sink) Statuses() []driver.DeliveryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]driver.DeliveryStatus(nil), s.statuses...)
}
