// Package bridge republishes routed events to Redis pub/sub so dashboard
// server instances can fan them out to their browser sessions.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/statusdeck/streamgate/internal/model"
)

const defaultQueueCapacity = 1024

// Config holds Redis connection and publishing settings.
type Config struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string

	// InstanceID identifies this gateway in published envelopes. A fresh
	// id is generated when empty.
	InstanceID string

	// QueueCapacity bounds the publish queue; events beyond it are
	// dropped rather than stalling dispatch.
	QueueCapacity int
}

// envelope is the wire format published to Redis channels.
type envelope struct {
	InstanceID string          `json:"instance_id"`
	MessageID  string          `json:"message_id"`
	Endpoint   string          `json:"endpoint"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// BridgeMetrics holds metrics for the bridge.
type BridgeMetrics struct {
	Published int64
	Errors    int64
	Dropped   int64
}

// Bridge publishes events to per-event-type Redis channels. Publishing is
// fire-and-forget: the dashboard resyncs over HTTP after a gap, so events
// queued at shutdown are dropped, not drained.
type Bridge struct {
	client     *redis.Client
	prefix     string
	instanceID string
	logger     *slog.Logger

	events chan model.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	metrics BridgeMetrics
}

// NewBridge creates a Bridge. The Redis connection is not established
// until Start.
func NewBridge(cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Bridge{
		client:     client,
		prefix:     cfg.ChannelPrefix,
		instanceID: cfg.InstanceID,
		logger:     logger,
		events:     make(chan model.Event, cfg.QueueCapacity),
	}
}

// Start verifies the Redis connection and begins publishing queued events.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	b.wg.Add(1)
	go b.publishLoop()

	b.logger.Info("bridge started",
		"instance_id", b.instanceID,
		"channel_prefix", b.prefix,
	)
	return nil
}

// Enqueue queues an event for publishing without blocking. Returns false
// when the event was dropped because the queue is full or the bridge has
// stopped.
func (b *Bridge) Enqueue(ev model.Event) bool {
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()

	if !stopped {
		select {
		case b.events <- ev:
			return true
		default:
		}
	}

	b.mu.Lock()
	b.metrics.Dropped++
	b.mu.Unlock()
	return false
}

// Stop shuts down the publish loop and closes the Redis connection.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	err := b.client.Close()
	b.logger.Info("bridge stopped")
	return err
}

// Stats returns current metrics.
func (b *Bridge) Stats() BridgeMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// QueueLen returns the number of events waiting to be published.
func (b *Bridge) QueueLen() int {
	return len(b.events)
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.events:
			b.publish(ev)
		}
	}
}

func (b *Bridge) publish(ev model.Event) {
	env := envelope{
		InstanceID: b.instanceID,
		MessageID:  ev.MessageID,
		Endpoint:   ev.Endpoint,
		Event:      ev.Type,
		Payload:    ev.Payload,
		ReceivedAt: ev.ReceivedAt,
	}

	data, err := json.Marshal(env)
	if err != nil {
		b.mu.Lock()
		b.metrics.Errors++
		b.mu.Unlock()
		b.logger.Error("marshal envelope failed", "message_id", ev.MessageID, "error", err)
		return
	}

	channel := b.channel(ev.Type)
	if err := b.client.Publish(b.ctx, channel, data).Err(); err != nil {
		b.mu.Lock()
		b.metrics.Errors++
		b.mu.Unlock()
		b.logger.Error("publish failed", "channel", channel, "error", err)
		return
	}

	b.mu.Lock()
	b.metrics.Published++
	b.mu.Unlock()

	b.logger.Debug("published event", "channel", channel, "message_id", ev.MessageID)
}

// channel maps an event type to its Redis channel name.
func (b *Bridge) channel(eventType string) string {
	return b.prefix + eventType
}
