package server

import (
	"context"
	"log"

	"salesbot-wa-be/internal/bootstrap"
	"salesbot-wa-be/internal/config"
	"salesbot-wa-be/internal/pkg/serverutils"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *bootstrap.Container
}

func New(cfg *config.Config, container *bootstrap.Container) *Server {
	// Initialize Fiber App
	app := fiber.New(fiber.Config{
		AppName:               "salesbot-wa",
		BodyLimit:             1 * 1024 * 1024, // 1MB
		DisableStartupMessage: cfg.App.Environment == "production",
	})

	// Middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CorsAllowedOrigins,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, OPTIONS",
		ExposeHeaders:    "Content-Length, Content-Type",
	}))

	// OpenTelemetry tracing middleware (traces all HTTP requests)
	app.Use(otelfiber.Middleware())

	app.Use(serverutils.ErrorHandlerMiddleware())

	// Routes
	registerRoutes(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
	}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	log.Printf("✅ Server is running on http://localhost:%s (instance %s)", s.cfg.App.Port, s.cfg.App.InstanceID)
	return s.app.Listen(":" + s.cfg.App.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func registerRoutes(app *fiber.App, c *bootstrap.Container) {
	api := app.Group("/api")

	// liveness for the orchestrator; session readiness is reported, not required
	api.Get("/healthz", func(ctx *fiber.Ctx) error {
		st := c.Session.Status()
		return ctx.JSON(serverutils.SuccessResponse("ok", fiber.Map{
			"state":    st.State,
			"ready":    st.Ready,
			"instance": c.InstanceID(),
		}))
	})

	c.AuthController.RegisterRoutes(api)

	// carries its own auth; must precede the /whatsapp group
	c.EventsHandler.RegisterRoutes(api)
	c.WhatsappController.RegisterRoutes(api)
}
