package websocket

import (
	"encoding/json"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/broadcast"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Conn is the part of a websocket connection the client uses. Both the
// fiber and the fasthttp connections satisfy it.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client streams hub events to one dashboard connection.
type Client struct {
	Conn   Conn
	Sub    *broadcast.Subscription
	logger logger.ILogger
}

// readPump only watches for the peer going away; the stream is one-way.
func (c *Client) readPump() {
	defer func() {
		c.Sub.Close()
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WS", "Unexpected close", map[string]interface{}{"id": c.Sub.ID, "error": err.Error()})
			}
			return
		}
	}
}

func (c *Client) writePump(initial []broadcast.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for _, ev := range initial {
		if !c.write(ev) {
			return
		}
	}

	for {
		select {
		case ev, ok := <-c.Sub.C():
			if !ok {
				c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.write(ev) {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(ev broadcast.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Warn("WS", "Dropping unserializable event", map[string]interface{}{"type": ev.Type, "error": err.Error()})
		return true
	}
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.TextMessage, data) == nil
}
