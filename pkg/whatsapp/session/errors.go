package session

import "errors"

var (
	ErrBothDriversFailed = errors.New("session: every driver failed to start")
	ErrCancelled         = errors.New("session: initialization cancelled")
	ErrNotReady          = errors.New("session: not ready")
	ErrNotActive         = errors.New("session: torn down")
	ErrNoDrivers         = errors.New("session: no driver factories configured")
)
