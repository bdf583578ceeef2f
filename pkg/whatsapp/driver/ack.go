package driver

type AckStatus string

const (
	AckPending   AckStatus = "pending"
	AckServer    AckStatus = "server"
	AckDelivered AckStatus = "delivered"
	AckRead      AckStatus = "read"
	AckPlayed    AckStatus = "played"
	AckUnknown   AckStatus = "unknown"
)

var ackCodes = map[int]AckStatus{
	0: AckPending,
	1: AckServer,
	2: AckDelivered,
	3: AckRead,
	4: AckPlayed,
}

// AckFromCode maps the numeric ack levels used by both transports.
func AckFromCode(code int) AckStatus {
	if s, ok := ackCodes[code]; ok {
		return s
	}
	return AckUnknown
}
