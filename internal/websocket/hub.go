package websocket

import (
	"context"
	"encoding/json"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/broadcast"

	"github.com/redis/go-redis/v9"
)

// ClusterChannel is the redis pub/sub channel shared by every instance.
const ClusterChannel = "cluster_events"

type clusterEnvelope struct {
	Origin string              `json:"origin"`
	Type   broadcast.EventType `json:"type"`
	Data   json.RawMessage     `json:"data,omitempty"`
	At     time.Time           `json:"at"`
}

// Relay mirrors hub events between instances so a dashboard connected to
// any of them sees the session owned by another.
type Relay struct {
	rdb        redis.UniversalClient
	hub        *broadcast.Hub
	instanceID string
	channel    string
	logger     logger.ILogger
	ready      chan struct{}
}

func NewRelay(rdb redis.UniversalClient, hub *broadcast.Hub, instanceID string, log logger.ILogger) *Relay {
	return &Relay{
		rdb:        rdb,
		hub:        hub,
		instanceID: instanceID,
		channel:    ClusterChannel,
		logger:     log,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the redis subscription is confirmed.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Run relays until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	sub := r.hub.Subscribe("redis-relay")
	defer sub.Close()
	close(r.ready)
	r.logger.Info("Relay", "Cluster relay started", map[string]interface{}{"instance": r.instanceID, "channel": r.channel})

	remote := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if ev.Local() {
				r.export(ctx, ev)
			}
		case msg, ok := <-remote:
			if !ok {
				return nil
			}
			r.ingest(msg.Payload)
		}
	}
}

func (r *Relay) export(ctx context.Context, ev broadcast.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		r.logger.Warn("Relay", "Event payload not serializable", map[string]interface{}{"type": ev.Type, "error": err.Error()})
		return
	}
	raw, _ := json.Marshal(clusterEnvelope{Origin: r.instanceID, Type: ev.Type, Data: data, At: ev.At})
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.logger.Warn("Relay", "Redis publish failed", map[string]interface{}{"type": ev.Type, "error": err.Error()})
	}
}

func (r *Relay) ingest(payload string) {
	var env clusterEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("Relay", "Redis msg parse error", map[string]interface{}{"error": err.Error()})
		return
	}
	if env.Origin == "" || env.Origin == r.instanceID {
		return
	}
	ev := broadcast.Event{Type: env.Type, At: env.At, Origin: env.Origin}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		ev.Data = env.Data
	}
	r.hub.Publish(ev)
}
