package service

import (
	"context"
	"errors"
	"time"

	"salesbot-wa-be/internal/dto"
	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/broadcast"
	"salesbot-wa-be/pkg/whatsapp/health"
	"salesbot-wa-be/pkg/whatsapp/pipeline"
	"salesbot-wa-be/pkg/whatsapp/session"
)

const (
	DefaultConnectWait = 30 * time.Second
	EventStatus        = broadcast.EventType("status")

	maxHealthDays = 90
)

var (
	ErrInvalidPhone  = errors.New("invalid phone number")
	ErrNoChallenge   = errors.New("no pairing challenge pending")
	ErrLogsDisabled  = errors.New("log reader not configured")
	ErrInvalidWindow = errors.New("days out of range")
)

// SessionControl is the part of the session manager the operator API drives.
type SessionControl interface {
	Connect(ctx context.Context) error
	Restart(ctx context.Context, forceCleanup bool) error
	Disconnect(ctx context.Context) error
	Logout(ctx context.Context) error
	Status() session.Status
	PairingChallenge() (session.PairingChallenge, bool)
	InitInFlight() bool
	SendText(ctx context.Context, recipient, content string) (string, error)
	SendMedia(ctx context.Context, recipient, mediaRef, caption string) (string, error)
	CheckRegistered(ctx context.Context, recipient string) (bool, error)
}

type HealthReporter interface {
	DispatchObserver
	Report(ctx context.Context, window time.Duration) (*health.Report, error)
	Snapshot() health.Snapshot
}

type PipelineControl interface {
	Metrics() pipeline.Metrics
	ClearDedup(ctx context.Context) error
	SetMaintenance(on bool)
}

type IWhatsappService interface {
	// Connect waits up to the connect window; pending is true when the
	// initialization is still running after that.
	Connect(ctx context.Context) (st session.Status, pending bool, err error)
	Restart(ctx context.Context, forceCleanup bool) (st session.Status, pending bool, err error)
	Disconnect(ctx context.Context) (session.Status, error)
	Logout(ctx context.Context) (session.Status, error)
	Status() session.Status
	PairingChallenge() (*dto.QRResponse, error)
	Send(ctx context.Context, req dto.SendMessageRequest) (*dto.SendMessageResponse, error)
	CheckNumber(ctx context.Context, phone string) (*dto.CheckNumberResponse, error)
	Health(ctx context.Context, days int) (*health.Report, error)
	PipelineMetrics() pipeline.Metrics
	ClearDedup(ctx context.Context) error
	SetMaintenance(on bool) pipeline.Metrics
	Logs(level string, limit, offset int) ([]logger.LogEntry, error)
	InitialEvents() []broadcast.Event
}

type whatsappService struct {
	session     SessionControl
	health      HealthReporter
	pipeline    PipelineControl
	logs        logger.LogReader
	connectWait time.Duration
	logger      logger.ILogger
}

func NewWhatsappService(s SessionControl, h HealthReporter, p PipelineControl, logs logger.LogReader, connectWait time.Duration, log logger.ILogger) IWhatsappService {
	if connectWait <= 0 {
		connectWait = DefaultConnectWait
	}
	return &whatsappService{session: s, health: h, pipeline: p, logs: logs, connectWait: connectWait, logger: log}
}

func (w *whatsappService) Connect(ctx context.Context) (session.Status, bool, error) {
	return w.wait(ctx, w.session.Connect)
}

func (w *whatsappService) Restart(ctx context.Context, forceCleanup bool) (session.Status, bool, error) {
	w.logger.Info("WHATSAPP", "Restart requested by operator", map[string]interface{}{"forceCleanup": forceCleanup})
	return w.wait(ctx, func(c context.Context) error { return w.session.Restart(c, forceCleanup) })
}

// wait bounds the caller while the initialization keeps running on the
// manager's own context.
func (w *whatsappService) wait(ctx context.Context, fn func(context.Context) error) (session.Status, bool, error) {
	wctx, cancel := context.WithTimeout(ctx, w.connectWait)
	defer cancel()
	err := fn(wctx)
	if errors.Is(err, context.DeadlineExceeded) && w.session.InitInFlight() {
		return w.session.Status(), true, nil
	}
	return w.session.Status(), false, err
}

func (w *whatsappService) Disconnect(ctx context.Context) (session.Status, error) {
	err := w.session.Disconnect(ctx)
	return w.session.Status(), err
}

func (w *whatsappService) Logout(ctx context.Context) (session.Status, error) {
	err := w.session.Logout(ctx)
	return w.session.Status(), err
}

func (w *whatsappService) Status() session.Status { return w.session.Status() }

func (w *whatsappService) PairingChallenge() (*dto.QRResponse, error) {
	ch, ok := w.session.PairingChallenge()
	if !ok {
		return nil, ErrNoChallenge
	}
	return &dto.QRResponse{QR: ch.RawPayload, Image: session.DataURL(ch.RenderedImage), IssuedAt: ch.IssuedAt}, nil
}

func (w *whatsappService) Send(ctx context.Context, req dto.SendMessageRequest) (*dto.SendMessageResponse, error) {
	phone := pipeline.NormalizePhone(req.Phone)
	if !pipeline.ValidPhone(phone) {
		return nil, ErrInvalidPhone
	}

	var (
		id  string
		err error
	)
	if req.MediaRef != "" {
		caption := req.Caption
		if caption == "" {
			caption = req.Message
		}
		id, err = w.session.SendMedia(ctx, phone, req.MediaRef, caption)
	} else {
		id, err = w.session.SendText(ctx, phone, req.Message)
	}
	if !errors.Is(err, session.ErrNotReady) {
		w.health.ObserveDispatch(phone, err)
	}
	if err != nil {
		return nil, err
	}
	return &dto.SendMessageResponse{Recipient: phone, MessageID: id}, nil
}

func (w *whatsappService) CheckNumber(ctx context.Context, phone string) (*dto.CheckNumberResponse, error) {
	p := pipeline.NormalizePhone(phone)
	if !pipeline.ValidPhone(p) {
		return nil, ErrInvalidPhone
	}
	ok, err := w.session.CheckRegistered(ctx, p)
	if err != nil {
		return nil, err
	}
	return &dto.CheckNumberResponse{Phone: p, Registered: ok}, nil
}

func (w *whatsappService) Health(ctx context.Context, days int) (*health.Report, error) {
	if days <= 0 || days > maxHealthDays {
		return nil, ErrInvalidWindow
	}
	return w.health.Report(ctx, time.Duration(days)*24*time.Hour)
}

func (w *whatsappService) PipelineMetrics() pipeline.Metrics { return w.pipeline.Metrics() }

func (w *whatsappService) ClearDedup(ctx context.Context) error {
	if err := w.pipeline.ClearDedup(ctx); err != nil {
		return err
	}
	w.logger.Info("WHATSAPP", "Dedup cache cleared by operator", nil)
	return nil
}

func (w *whatsappService) SetMaintenance(on bool) pipeline.Metrics {
	w.pipeline.SetMaintenance(on)
	w.logger.Warn("WHATSAPP", "Maintenance mode changed", map[string]interface{}{"enabled": on})
	return w.pipeline.Metrics()
}

func (w *whatsappService) Logs(level string, limit, offset int) ([]logger.LogEntry, error) {
	if w.logs == nil {
		return nil, ErrLogsDisabled
	}
	return w.logs.GetLogs(level, limit, offset)
}

// InitialEvents is what a dashboard receives on connect before any live
// event: the status and the pending pairing challenge.
func (w *whatsappService) InitialEvents() []broadcast.Event {
	now := time.Now()
	out := []broadcast.Event{{Type: EventStatus, Data: w.session.Status(), At: now}}
	if ch, ok := w.session.PairingChallenge(); ok {
		out = append(out, broadcast.Event{
			Type: broadcast.EventPairingChallenge,
			Data: broadcast.PairingChallengePayload{RenderedImage: session.DataURL(ch.RenderedImage), IssuedAt: ch.IssuedAt},
			At:   now,
		})
	}
	return out
}
