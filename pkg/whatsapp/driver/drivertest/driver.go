// Package drivertest provides a scriptable in-memory driver.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"salesbot-wa-be/pkg/whatsapp/driver"
)

type Sent struct {
	Recipient string
	Content   string
	MediaRef  string
}

// Driver records every call and lets tests push events into the sink.
type Driver struct {
	K    driver.Kind
	Caps driver.Capabilities

	// PairErr is returned from Pair.
	PairErr error
	// PairBlock makes Pair wait for ctx cancellation.
	PairBlock bool
	// AfterPair is called with the sink when Pair succeeds, e.g. to emit
	// ready straight away.
	AfterPair func(d *Driver)
	// SendErr, when set, decides the outcome of every send.
	SendErr func(n int) error
	// Registered answers CheckRegistered.
	Registered bool

	PairCalls  atomic.Int32
	CloseCalls atomic.Int32

	mu    sync.Mutex
	sink  driver.Sink
	sent  []Sent
	sends int
}

func New(kind driver.Kind) *Driver {
	return &Driver{K: kind, Caps: driver.Capabilities{Media: kind == driver.KindPrimary, CheckRegistered: kind == driver.KindPrimary}}
}

func (d *Driver) Kind() driver.Kind                 { return d.K }
func (d *Driver) Capabilities() driver.Capabilities { return d.Caps }

func (d *Driver) Pair(ctx context.Context, sink driver.Sink) error {
	d.PairCalls.Add(1)
	if d.PairBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	if d.PairErr != nil {
		return d.PairErr
	}
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
	if d.AfterPair != nil {
		d.AfterPair(d)
	}
	return nil
}

func (d *Driver) SendText(ctx context.Context, recipient, content string) (string, error) {
	return d.send(Sent{Recipient: recipient, Content: content})
}

func (d *Driver) SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error) {
	if !d.Caps.Media {
		return "", driver.ErrUnsupported
	}
	return d.send(Sent{Recipient: recipient, Content: caption, MediaRef: mediaRef})
}

func (d *Driver) send(s Sent) (string, error) {
	d.mu.Lock()
	d.sends++
	n := d.sends
	d.mu.Unlock()

	if d.SendErr != nil {
		if err := d.SendErr(n); err != nil {
			return "", err
		}
	}
	d.mu.Lock()
	d.sent = append(d.sent, s)
	d.mu.Unlock()
	return fmt.Sprintf("msg-%d", n), nil
}

func (d *Driver) CheckRegistered(ctx context.Context, recipient string) (bool, error) {
	if !d.Caps.CheckRegistered {
		return false, driver.ErrUnsupported
	}
	return d.Registered, nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.CloseCalls.Add(1)
	return nil
}

// Sent returns a copy of successful sends.
func (d *Driver) Sent() []Sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Sent, len(d.sent))
	copy(out, d.sent)
	return out
}

func (d *Driver) Emit(ev driver.ConnectionEvent) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if sink != nil {
		sink.OnConnectionEvent(ev)
	}
}

func (d *Driver) EmitReady() { d.Emit(driver.ConnectionEvent{Type: driver.EventReady}) }

func (d *Driver) EmitQR(qr string) {
	d.Emit(driver.ConnectionEvent{Type: driver.EventQRIssued, QR: qr})
}

func (d *Driver) EmitDisconnected(reason string) {
	d.Emit(driver.ConnectionEvent{Type: driver.EventDisconnected, Reason: reason})
}

func (d *Driver) Deliver(env driver.InboundEnvelope) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink.OnInbound(env)
	}
}

// Factory hands out the drivers produced by Make and counts them.
type Factory struct {
	K    driver.Kind
	Make func() *Driver

	Created atomic.Int32
	mu      sync.Mutex
	last    *Driver
}

func NewFactory(kind driver.Kind, build func() *Driver) *Factory {
	return &Factory{K: kind, Make: build}
}

func (f *Factory) Kind() driver.Kind { return f.K }

func (f *Factory) New() driver.Driver {
	f.Created.Add(1)
	d := f.Make()
	f.mu.Lock()
	f.last = d
	f.mu.Unlock()
	return d
}

// Last returns the most recent driver built by the factory.
func (f *Factory) Last() *Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
