package bootstrap

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"salesbot-wa-be/internal/config"
	"salesbot-wa-be/internal/controller"
	"salesbot-wa-be/internal/handler"
	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/internal/pkg/mailer"
	"salesbot-wa-be/internal/pkg/serverutils"
	"salesbot-wa-be/internal/repository/contract"
	"salesbot-wa-be/internal/repository/implementation"
	"salesbot-wa-be/internal/repository/memory"
	"salesbot-wa-be/internal/service"
	"salesbot-wa-be/internal/websocket"
	"salesbot-wa-be/pkg/broadcast"
	"salesbot-wa-be/pkg/llm/factory"
	pktNats "salesbot-wa-be/pkg/nats"
	"salesbot-wa-be/pkg/responder"
	"salesbot-wa-be/pkg/scoring"
	"salesbot-wa-be/pkg/sealbox"
	"salesbot-wa-be/pkg/transcription"
	"salesbot-wa-be/pkg/whatsapp/dedup"
	"salesbot-wa-be/pkg/whatsapp/driver"
	"salesbot-wa-be/pkg/whatsapp/driver/bridge"
	"salesbot-wa-be/pkg/whatsapp/driver/natsbridge"
	"salesbot-wa-be/pkg/whatsapp/health"
	"salesbot-wa-be/pkg/whatsapp/pacing"
	"salesbot-wa-be/pkg/whatsapp/pipeline"
	"salesbot-wa-be/pkg/whatsapp/qr"
	"salesbot-wa-be/pkg/whatsapp/session"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	dedupKeyPrefix   = "wa:dedup:"
	scoringKeyPrefix = "wa:ctx:"
	natsClientName   = "salesbot-wa"
)

type Container struct {
	// Controllers
	WhatsappController controller.IWhatsappController
	AuthController     controller.IAuthController
	EventsHandler      *handler.EventsHandler

	// Core
	Hub      *broadcast.Hub
	Session  *session.Manager
	Health   *health.Tracker
	Pipeline *pipeline.Pipeline
	Logger   logger.ILogger

	// Background Services (run by Run)
	ConsumerService service.IConsumerService
	OutboundService *service.OutboundService
	Relay           *websocket.Relay

	cfg       *config.Config
	pubSub    *gochannel.GoChannel
	rdb       *redis.Client
	nc        *nats.Conn
	natsPub   *pktNats.Publisher
	natsSub   *pktNats.Subscriber
	sysLogger *logger.ZapLogger
	wsLogger  *logger.ZapLogger
}

// NewContainer wires the service. db may be nil, in which case state is
// kept in memory and lost on restart.
func NewContainer(db *gorm.DB, cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	wsLogger := logger.NewIsolatedLogger(cfg.App.EventLogFilePath)
	hub := broadcast.NewHub(wsLogger)

	// 2. Persistence
	var (
		creds       contract.CredentialRepository
		healthStore contract.HealthLogRepository
		leads       contract.LeadRepository
	)
	if db != nil {
		var box *sealbox.Box
		if cfg.WhatsApp.CredentialSecret != "" {
			b, err := sealbox.New(cfg.WhatsApp.CredentialSecret)
			if err != nil {
				return nil, fmt.Errorf("credential secret: %w", err)
			}
			box = b
		} else {
			sysLogger.Warn("BOOT", "WA_CREDENTIAL_SECRET not set, credentials stored unsealed", nil)
		}
		creds = implementation.NewCredentialRepository(db, box)
		healthStore = implementation.NewHealthLogRepository(db)
		leads = implementation.NewLeadRepository(db)
	} else {
		sysLogger.Warn("BOOT", "No database configured, using in-memory stores", nil)
		creds = memory.NewCredentialRepository()
		healthStore = memory.NewHealthLogRepository(cfg.Health.MaxEvents)
		leads = memory.NewLeadRepository()
	}

	// 3. Infrastructure
	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if _, err := rdb.Ping(pingCtx).Result(); err != nil {
		sysLogger.Warn("BOOT", "Failed to connect to Redis, cluster features disabled", map[string]interface{}{"error": err.Error()})
		rdb.Close()
		rdb = nil
	}
	cancel()

	// NATS
	nc, err := pktNats.Connect(cfg.App.NatsURL, natsClientName)
	if err != nil {
		sysLogger.Warn("BOOT", "Failed to connect to NATS, fallback driver and event bus disabled", map[string]interface{}{"error": err.Error()})
		nc = nil
	}
	var (
		natsPub *pktNats.Publisher
		natsSub *pktNats.Subscriber
	)
	if nc != nil {
		if natsPub, err = pktNats.NewPublisher(nc, sysLogger); err != nil {
			sysLogger.Warn("BOOT", "JetStream publisher unavailable", map[string]interface{}{"error": err.Error()})
			natsPub = nil
		}
		if natsSub, err = pktNats.NewSubscriber(nc, sysLogger); err != nil {
			sysLogger.Warn("BOOT", "JetStream subscriber unavailable", map[string]interface{}{"error": err.Error()})
			natsSub = nil
		}
	}

	// 4. Session
	header := http.Header{}
	if cfg.WhatsApp.BridgeToken != "" {
		header.Set("Authorization", "Bearer "+cfg.WhatsApp.BridgeToken)
	}
	factories := []driver.Factory{
		bridge.NewFactory(bridge.Config{
			URL:            cfg.WhatsApp.BridgeURL,
			Header:         header,
			CommandTimeout: cfg.WhatsApp.CommandTimeout,
			PingPeriod:     cfg.WhatsApp.BridgePingPeriod,
		}, creds, sysLogger),
	}
	if cfg.WhatsApp.FallbackEnabled && nc != nil {
		factories = append(factories, natsbridge.NewFactory(natsbridge.Config{
			Prefix:         cfg.WhatsApp.FallbackPrefix,
			CommandTimeout: cfg.WhatsApp.CommandTimeout,
		}, natsbridge.NewConn(nc), creds, sysLogger))
	}
	manager := session.NewManager(factories, creds, hub, sysLogger,
		session.WithConfig(session.Config{StartupTimeout: cfg.WhatsApp.StartupTimeout, TeardownTimeout: cfg.WhatsApp.TeardownTimeout}),
		session.WithRenderer(qr.NewRenderer(cfg.WhatsApp.QRSize)),
	)

	// 5. Health
	emailService := mailer.NewEmailService(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Email,
		cfg.SMTP.Password,
		cfg.SMTP.Email,
		cfg.SMTP.SenderName,
	)
	alertService := service.NewAlertService(emailService, cfg.SMTP.AlertEmails, cfg.Health.Window, sysLogger)
	tracker := health.NewTracker(health.Config{
		FailureThreshold: cfg.Health.FailureThreshold,
		ReconnectDelay:   cfg.Health.ReconnectDelay,
		Window:           cfg.Health.Window,
		MaxEvents:        cfg.Health.MaxEvents,
	}, manager, hub, sysLogger, health.WithStore(healthStore), health.WithAlerts(alertService))
	manager.AddObserver(tracker)

	// 6. Reply generation
	llmProvider, err := factory.NewLLMProvider(cfg.Ai.LLMProvider, cfg.Ai.LLMModel, cfg.Ai.LLMBaseURL, cfg.Ai.LLMAPIKey)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	sysLogger.Info("BOOT", "Using LLM provider", map[string]interface{}{"provider": cfg.Ai.LLMProvider, "model": cfg.Ai.LLMModel})
	replies := responder.NewLLMResponder(llmProvider, responder.Config{
		SystemPrompt: cfg.Ai.SystemPrompt,
		HistoryTurns: cfg.Ai.HistoryTurns,
		Temperature:  cfg.Ai.Temperature,
	})

	var transcriber pipeline.Transcriber
	if cfg.Ai.WhisperBaseURL != "" {
		transcriber = transcription.NewWhisperTranscriber(transcription.Config{
			BaseURL:  cfg.Ai.WhisperBaseURL,
			APIKey:   cfg.Ai.WhisperAPIKey,
			Model:    cfg.Ai.WhisperModel,
			Language: cfg.Ai.WhisperLang,
		})
	}

	// 7. Dedup and scoring
	var checker dedup.Checker = dedup.NewCache(cfg.Pipeline.DedupWindow)
	if cfg.Pipeline.DedupBackend == "redis" {
		if rdb != nil {
			checker = dedup.NewRedisCache(rdb, dedupKeyPrefix, cfg.Pipeline.DedupWindow)
		} else {
			sysLogger.Warn("BOOT", "Redis dedup requested but Redis is unavailable, using memory", nil)
		}
	}
	var contexts scoring.ContextStore = scoring.NewMemoryContextStore()
	if rdb != nil {
		contexts = scoring.NewRedisContextStore(rdb, scoringKeyPrefix, cfg.Pipeline.ScoringTTL)
	}

	// 8. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)
	consumerService := service.NewConsumerService(pubSub, leads, contexts, sysLogger)

	// 9. Pipeline
	pipe := pipeline.New(pipeline.Config{
		FallbackReply:      cfg.Pipeline.FallbackReply,
		StaleAfter:         cfg.Pipeline.StaleAfter,
		SideEffectDelay:    cfg.Pipeline.SideEffectDelay,
		Maintenance:        cfg.Pipeline.Maintenance,
		SerializePerSender: cfg.Pipeline.SerializePerSender,
	}, pipeline.Deps{
		Session: manager,
		Dedup:   checker,
		Pacer: pacing.New(pacing.Config{
			Min:            cfg.Pipeline.PacingMin,
			Max:            cfg.Pipeline.PacingMax,
			WordsPerMinute: cfg.Pipeline.PacingWPM,
			Jitter:         cfg.Pipeline.PacingJitter,
		}, nil),
		Responder:   replies,
		Transcriber: transcriber,
		SideEffects: service.NewSideEffectPublisher(pubSub),
		Health:      tracker,
		Hub:         hub,
		Logger:      sysLogger,
	})
	manager.SetInboundHandler(pipe)

	var outboundService *service.OutboundService
	if natsSub != nil {
		outboundService = service.NewOutboundService(natsSub, manager, tracker, sysLogger)
	}

	var relay *websocket.Relay
	if rdb != nil {
		relay = websocket.NewRelay(rdb, hub, cfg.App.InstanceID, wsLogger)
	}

	// 10. Controllers
	auth := serverutils.JwtMiddleware(cfg.Auth.JWTSecret)
	waService := service.NewWhatsappService(manager, tracker, pipe, sysLogger, service.DefaultConnectWait, sysLogger)
	authService := service.NewAuthService(cfg.Auth.OperatorUser, cfg.Auth.OperatorPasswordHash, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	return &Container{
		WhatsappController: controller.NewWhatsappController(waService, auth),
		AuthController:     controller.NewAuthController(authService),
		EventsHandler:      handler.NewEventsHandler(hub, waService, auth, wsLogger),

		Hub:      hub,
		Session:  manager,
		Health:   tracker,
		Pipeline: pipe,
		Logger:   sysLogger,

		ConsumerService: consumerService,
		OutboundService: outboundService,
		Relay:           relay,

		cfg:       cfg,
		pubSub:    pubSub,
		rdb:       rdb,
		nc:        nc,
		natsPub:   natsPub,
		natsSub:   natsSub,
		sysLogger: sysLogger,
		wsLogger:  wsLogger,
	}, nil
}

// Run starts the background services and blocks until ctx ends, then
// shuts everything down in dependency order.
func (c *Container) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := c.ConsumerService.Consume(gctx); err != nil {
		c.shutdown()
		return fmt.Errorf("consumer: %w", err)
	}
	if c.OutboundService != nil {
		if err := c.OutboundService.Start(gctx); err != nil {
			c.Logger.Warn("BOOT", "Outbound commands disabled", map[string]interface{}{"error": err.Error()})
		}
	}
	if c.Relay != nil {
		g.Go(func() error { return c.Relay.Run(gctx) })
	}
	if c.natsPub != nil {
		sub := c.Hub.Subscribe("nats-forward")
		g.Go(func() error {
			pktNats.Forward(gctx, sub, c.natsPub, c.Logger)
			return nil
		})
	}
	if c.cfg.WhatsApp.AutoConnect {
		g.Go(func() error {
			if err := c.Session.Connect(gctx); err != nil {
				c.Logger.Error("BOOT", "Initial connect failed", map[string]interface{}{"error": err.Error()})
			}
			return nil
		})
	}

	<-gctx.Done()
	c.shutdown()
	return g.Wait()
}

func (c *Container) InstanceID() string { return c.cfg.App.InstanceID }

func (c *Container) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WhatsApp.TeardownTimeout+5*time.Second)
	defer cancel()

	c.Session.Close(ctx)
	c.Health.Stop()
	c.Pipeline.Wait()
	if c.natsSub != nil {
		c.natsSub.Close()
	}
	if c.nc != nil {
		c.nc.Drain()
	}
	c.pubSub.Close()
	c.Hub.Close()
	if c.rdb != nil {
		c.rdb.Close()
	}
	c.sysLogger.Sync()
	c.wsLogger.Sync()
}
