package websocket

import (
	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/broadcast"
)

// ServeWs subscribes the connection to hub and blocks until the peer
// leaves. initial events are written before any live one.
func ServeWs(hub *broadcast.Hub, conn Conn, name string, log logger.ILogger, initial ...broadcast.Event) {
	client := &Client{Conn: conn, Sub: hub.Subscribe(name), logger: log}

	go client.writePump(initial)
	client.readPump()
}
