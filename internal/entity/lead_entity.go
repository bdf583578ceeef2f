package entity

import "time"

type Lead struct {
	Phone        string
	FirstContact time.Time
	LastContact  time.Time
	LastMessage  string
	MessageCount int
}

// LeadUpdate carries the fields the pipeline knows after a conversation
// turn. Zero values are left untouched.
type LeadUpdate struct {
	LastMessage string
	At          time.Time
}
