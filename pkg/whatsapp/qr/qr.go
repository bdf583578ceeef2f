// Package qr renders pairing payloads as PNG QR codes.
package qr

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

const DefaultSize = 256

var ErrEmptyPayload = errors.New("qr: empty payload")

// Renderer implements session.Renderer.
type Renderer struct {
	Size  int
	Level qrcode.RecoveryLevel
}

func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{Size: size, Level: qrcode.Medium}
}

func (r *Renderer) Render(payload string) ([]byte, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	return qrcode.Encode(payload, r.Level, r.Size)
}
