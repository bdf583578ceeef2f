package driver

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupported    = errors.New("operation not supported by driver")
	ErrNotConnected   = errors.New("driver not connected")
	ErrPairingExpired = errors.New("pairing challenge expired")
	ErrClosed         = errors.New("driver closed")
)

// TransportInitError wraps a failure during Pair. It is recoverable: the
// session manager tries the next variant.
type TransportInitError struct {
	Kind Kind
	Err  error
}

func (e *TransportInitError) Error() string {
	return fmt.Sprintf("%s driver init failed: %v", e.Kind, e.Err)
}

func (e *TransportInitError) Unwrap() error { return e.Err }

// InitError wraps err as a TransportInitError unless it already is one.
func InitError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var tie *TransportInitError
	if errors.As(err, &tie) {
		return err
	}
	return &TransportInitError{Kind: kind, Err: err}
}
