package controller

import (
	"errors"

	"salesbot-wa-be/internal/dto"
	"salesbot-wa-be/internal/pkg/serverutils"
	"salesbot-wa-be/internal/service"
	"salesbot-wa-be/pkg/whatsapp/driver"
	"salesbot-wa-be/pkg/whatsapp/session"

	"github.com/gofiber/fiber/v2"
)

type IWhatsappController interface {
	RegisterRoutes(r fiber.Router)
	Connect(ctx *fiber.Ctx) error
	Restart(ctx *fiber.Ctx) error
	FreshRestart(ctx *fiber.Ctx) error
	Disconnect(ctx *fiber.Ctx) error
	Logout(ctx *fiber.Ctx) error
	Status(ctx *fiber.Ctx) error
	QR(ctx *fiber.Ctx) error
	Send(ctx *fiber.Ctx) error
	CheckNumber(ctx *fiber.Ctx) error
	Health(ctx *fiber.Ctx) error
	PipelineMetrics(ctx *fiber.Ctx) error
	ClearDedup(ctx *fiber.Ctx) error
	Maintenance(ctx *fiber.Ctx) error
	Logs(ctx *fiber.Ctx) error
}

type whatsappController struct {
	service service.IWhatsappService
	auth    fiber.Handler
}

// NewWhatsappController mounts every route behind auth.
func NewWhatsappController(service service.IWhatsappService, auth fiber.Handler) IWhatsappController {
	return &whatsappController{service: service, auth: auth}
}

func (c *whatsappController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/whatsapp")
	h.Use(c.auth)
	h.Post("/connect", c.Connect)
	h.Post("/restart", c.Restart)
	h.Post("/fresh-restart", c.FreshRestart)
	h.Post("/disconnect", c.Disconnect)
	h.Post("/logout", c.Logout)
	h.Get("/status", c.Status)
	h.Get("/qr", c.QR)
	h.Post("/send", c.Send)
	h.Get("/check/:phone", c.CheckNumber)
	h.Get("/health", c.Health)
	h.Get("/pipeline/metrics", c.PipelineMetrics)
	h.Post("/pipeline/dedup/clear", c.ClearDedup)
	h.Post("/pipeline/maintenance", c.Maintenance)
	h.Get("/logs", c.Logs)
}

func (c *whatsappController) Connect(ctx *fiber.Ctx) error {
	st, pending, err := c.service.Connect(ctx.UserContext())
	return c.lifecycle(ctx, st, pending, err, "Connected")
}

func (c *whatsappController) Restart(ctx *fiber.Ctx) error {
	var req dto.RestartRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
		}
	}
	st, pending, err := c.service.Restart(ctx.UserContext(), req.ForceCleanup)
	return c.lifecycle(ctx, st, pending, err, "Restarted")
}

func (c *whatsappController) FreshRestart(ctx *fiber.Ctx) error {
	st, pending, err := c.service.Restart(ctx.UserContext(), true)
	return c.lifecycle(ctx, st, pending, err, "Restarted with fresh credentials")
}

func (c *whatsappController) Disconnect(ctx *fiber.Ctx) error {
	st, err := c.service.Disconnect(ctx.UserContext())
	if err != nil {
		return failure(ctx, err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Disconnected", st))
}

func (c *whatsappController) Logout(ctx *fiber.Ctx) error {
	st, err := c.service.Logout(ctx.UserContext())
	if err != nil {
		return failure(ctx, err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Logged out", st))
}

func (c *whatsappController) Status(ctx *fiber.Ctx) error {
	return ctx.JSON(serverutils.SuccessResponse("Success", c.service.Status()))
}

func (c *whatsappController) QR(ctx *fiber.Ctx) error {
	res, err := c.service.PairingChallenge()
	if err != nil {
		return failure(ctx, err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success", res))
}

func (c *whatsappController) Send(ctx *fiber.Ctx) error {
	var req dto.SendMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
	}
	res, err := c.service.Send(ctx.UserContext(), req)
	if err != nil {
		return failure(ctx, err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Message sent", res))
}

func (c *whatsappController) CheckNumber(ctx *fiber.Ctx) error {
	res, err := c.service.CheckNumber(ctx.UserContext(), ctx.Params("phone"))
	if err != nil {
		return failure(ctx, err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success", res))
}

func (c *whatsappController) Health(ctx *fiber.Ctx) error {
	res, err := c.service.Health(ctx.UserContext(), ctx.QueryInt("days", 7))
	if err != nil {
		return failure(ctx, err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success", res))
}

func (c *whatsappController) PipelineMetrics(ctx *fiber.Ctx) error {
	return ctx.JSON(serverutils.SuccessResponse("Success", c.service.PipelineMetrics()))
}

func (c *whatsappController) ClearDedup(ctx *fiber.Ctx) error {
	if err := c.service.ClearDedup(ctx.UserContext()); err != nil {
		return failure(ctx, err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Dedup cache cleared", dto.ClearDedupResponse{Cleared: true}))
}

func (c *whatsappController) Maintenance(ctx *fiber.Ctx) error {
	var req dto.MaintenanceRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}
	return ctx.JSON(serverutils.SuccessResponse("Maintenance mode updated", c.service.SetMaintenance(req.Enabled)))
}

func (c *whatsappController) Logs(ctx *fiber.Ctx) error {
	limit := ctx.QueryInt("limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := ctx.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	res, err := c.service.Logs(ctx.Query("level", ""), limit, offset)
	if err != nil {
		return failure(ctx, err)
	}
	return ctx.JSON(serverutils.SuccessResponse("Success", res))
}

// lifecycle answers 202 while an initialization keeps running past the
// request's wait.
func (c *whatsappController) lifecycle(ctx *fiber.Ctx, st session.Status, pending bool, err error, msg string) error {
	if err != nil {
		return failure(ctx, err)
	}
	if pending {
		return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Initialization in progress", st))
	}
	return ctx.JSON(serverutils.SuccessResponse(msg, st))
}

func failure(ctx *fiber.Ctx, err error) error {
	code := statusFor(err)
	return ctx.Status(code).JSON(serverutils.ErrorResponse(code, err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidPhone), errors.Is(err, service.ErrInvalidWindow):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrNoChallenge):
		return fiber.StatusNotFound
	case errors.Is(err, session.ErrNotReady), errors.Is(err, service.ErrLogsDisabled):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, session.ErrNotActive), errors.Is(err, session.ErrCancelled):
		return fiber.StatusConflict
	case errors.Is(err, driver.ErrUnsupported):
		return fiber.StatusNotImplemented
	case errors.Is(err, session.ErrBothDriversFailed), errors.Is(err, driver.ErrNotConnected):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}
