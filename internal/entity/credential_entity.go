package entity

import "time"

type Credential struct {
	DriverKind string
	Blob       []byte
	UpdatedAt  time.Time
}
