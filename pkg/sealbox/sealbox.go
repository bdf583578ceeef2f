// Package sealbox encrypts small blobs at rest with XChaCha20-Poly1305.
package sealbox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrCorrupt = errors.New("sealbox: ciphertext too short or tampered")

type Box struct {
	key []byte
}

// New derives a 32 byte key from secret. An empty secret is rejected.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, errors.New("sealbox: empty secret")
	}
	sum := sha256.Sum256([]byte(secret))
	return &Box{key: sum[:]}, nil
}

// Seal returns nonce || ciphertext. ad binds the blob to its row.
func (b *Box) Seal(plain, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealbox: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, ad), nil
}

func (b *Box) Open(sealed, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCorrupt
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, ad)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plain, nil
}
