package dto

import "time"

type SendMessageRequest struct {
	Phone    string `json:"phone" validate:"required,min=8,max=40"`
	Message  string `json:"message" validate:"required_without=MediaRef,max=4096"`
	MediaRef string `json:"mediaRef" validate:"omitempty,max=8192"`
	Caption  string `json:"caption" validate:"max=1024"`
}

type SendMessageResponse struct {
	Recipient string `json:"recipient"`
	MessageID string `json:"messageId"`
}

type RestartRequest struct {
	ForceCleanup bool `json:"forceCleanup"`
}

type QRResponse struct {
	QR       string    `json:"qr"`
	Image    string    `json:"image"`
	IssuedAt time.Time `json:"issuedAt"`
}

type CheckNumberResponse struct {
	Phone      string `json:"phone"`
	Registered bool   `json:"registered"`
}

type ClearDedupResponse struct {
	Cleared bool `json:"cleared"`
}

type MaintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

// TurnMessage is the side-effect bus payload for one answered message.
type TurnMessage struct {
	SenderID string    `json:"senderId"`
	Inbound  string    `json:"inbound"`
	Reply    string    `json:"reply"`
	At       time.Time `json:"at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
