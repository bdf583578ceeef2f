package handler

import (
	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/service"
	internalWS "salesbot-wa-be/internal/websocket"
	"salesbot-wa-be/pkg/broadcast"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// EventsHandler streams hub events to operator dashboards.
type EventsHandler struct {
	hub     *broadcast.Hub
	service service.IWhatsappService
	auth    fiber.Handler
	logger  logger.ILogger
}

func NewEventsHandler(hub *broadcast.Hub, svc service.IWhatsappService, auth fiber.Handler, log logger.ILogger) *EventsHandler {
	return &EventsHandler{hub: hub, service: svc, auth: auth, logger: log}
}

// ServeWs upgrades the request. Browsers pass the token as ?token=.
func (h *EventsHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	operator, _ := c.Locals("operator").(string)
	initial := h.service.InitialEvents()
	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("EventsHandler", "Starting WebSocket session", map[string]interface{}{"operator": operator})
		internalWS.ServeWs(h.hub, conn, "dashboard:"+operator, h.logger, initial...)
		h.logger.Info("EventsHandler", "WebSocket session ended", map[string]interface{}{"operator": operator})
	})(c)
}

func (h *EventsHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/whatsapp/events", h.auth, h.ServeWs)
}
