// Package gateway wires configured endpoints into the event router and
// forwards every routed event to the downstream sinks.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/statusdeck/streamgate/internal/config"
	"github.com/statusdeck/streamgate/internal/connection"
	"github.com/statusdeck/streamgate/internal/model"
	"github.com/statusdeck/streamgate/internal/router"
)

// DefaultStateLogInterval is how often the service logs a state summary.
const DefaultStateLogInterval = time.Minute

// Sink receives routed events for downstream delivery. Enqueue must not
// block; it reports whether the event was accepted.
type Sink interface {
	Enqueue(ev model.Event) bool
}

// Config holds gateway service configuration.
type Config struct {
	InstanceID       string
	StateLogInterval time.Duration
}

// ServiceStats holds service counters.
type ServiceStats struct {
	Endpoints       int
	EventsForwarded int64
	SinkDrops       int64
}

// Service reconciles the configured endpoint list against live router
// bindings and stamps routed events into model.Event records for the
// sinks.
type Service struct {
	cfg    Config
	router router.Router
	sinks  []Sink
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*endpointBinding

	eventsForwarded atomic.Int64
	sinkDrops       atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// endpointBinding tracks the live router registrations for one endpoint.
type endpointBinding struct {
	cfg  config.EndpointConfig
	offs map[string]func() // event type -> release
}

// NewService creates a Service. Sinks may be empty; events are still
// routed and counted.
func NewService(cfg Config, rtr router.Router, sinks []Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StateLogInterval == 0 {
		cfg.StateLogInterval = DefaultStateLogInterval
	}
	return &Service{
		cfg:    cfg,
		router: rtr,
		sinks:  sinks,
		logger: logger,
		active: make(map[string]*endpointBinding),
	}
}

// Start begins the periodic state logging loop. Endpoints attach via
// Apply.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.stateLogLoop()

	s.logger.Info("gateway service started", "instance_id", s.cfg.InstanceID)
	return nil
}

// Stop detaches every endpoint and shuts down background loops. Detaching
// releases the router bindings, which closes the upstream connections.
func (s *Service) Stop(ctx context.Context) error {
	s.Apply(nil)

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gateway service stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply reconciles the desired endpoint list against the active bindings:
// new endpoints are attached, removed ones detached, and changed ones
// updated. Safe to call at any time; the config watcher calls it on every
// reload.
func (s *Service) Apply(endpoints []config.EndpointConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	desired := make(map[string]config.EndpointConfig, len(endpoints))
	for _, ep := range endpoints {
		desired[ep.Name] = ep
	}

	// Detach endpoints that are no longer configured
	for name, b := range s.active {
		if _, ok := desired[name]; ok {
			continue
		}
		s.detachLocked(name, b)
	}

	for name, ep := range desired {
		existing, ok := s.active[name]
		if !ok {
			s.attachLocked(ep)
			continue
		}
		if reflect.DeepEqual(existing.cfg, ep) {
			continue
		}
		if sameConnection(existing.cfg, ep) {
			s.updateEventsLocked(existing, ep)
			continue
		}
		// URL or connection settings changed: full rebind
		s.detachLocked(name, existing)
		s.attachLocked(ep)
	}
}

// Stats returns current service counters.
func (s *Service) Stats() ServiceStats {
	s.mu.Lock()
	endpoints := len(s.active)
	s.mu.Unlock()
	return ServiceStats{
		Endpoints:       endpoints,
		EventsForwarded: s.eventsForwarded.Load(),
		SinkDrops:       s.sinkDrops.Load(),
	}
}

// attachLocked configures the connection and registers a handler per
// event type. Caller holds s.mu.
func (s *Service) attachLocked(ep config.EndpointConfig) {
	s.router.Configure(ep.URL, connectionConfig(ep))

	b := &endpointBinding{
		cfg:  ep,
		offs: make(map[string]func(), len(ep.Events)),
	}
	for _, eventType := range ep.Events {
		if _, dup := b.offs[eventType]; dup {
			continue
		}
		b.offs[eventType] = s.router.On(ep.URL, eventType, s.handler(ep.URL, eventType))
	}
	s.active[ep.Name] = b

	s.logger.Info("endpoint attached",
		"endpoint", ep.Name,
		"url", ep.URL,
		"events", len(b.offs),
	)
}

// detachLocked releases every registration for the endpoint. Caller
// holds s.mu.
func (s *Service) detachLocked(name string, b *endpointBinding) {
	for _, off := range b.offs {
		off()
	}
	delete(s.active, name)

	s.logger.Info("endpoint detached", "endpoint", name, "url", b.cfg.URL)
}

// updateEventsLocked diffs the event lists of an endpoint whose URL and
// connection settings are unchanged. Adds run before removes so the
// connection never drops to zero handlers mid-update. Caller holds s.mu.
func (s *Service) updateEventsLocked(b *endpointBinding, ep config.EndpointConfig) {
	keep := make(map[string]bool, len(ep.Events))
	added := 0
	for _, eventType := range ep.Events {
		keep[eventType] = true
		if _, ok := b.offs[eventType]; !ok {
			b.offs[eventType] = s.router.On(ep.URL, eventType, s.handler(ep.URL, eventType))
			added++
		}
	}

	removed := 0
	for eventType, off := range b.offs {
		if keep[eventType] {
			continue
		}
		off()
		delete(b.offs, eventType)
		removed++
	}

	b.cfg = ep

	s.logger.Info("endpoint updated",
		"endpoint", ep.Name,
		"added", added,
		"removed", removed,
	)
}

// handler stamps a routed payload into an Event record and forwards it
// to every sink.
func (s *Service) handler(url, eventType string) router.Handler {
	return func(payload json.RawMessage) {
		now := time.Now().UTC()
		ev := model.Event{
			MessageID:  connection.NewMessageID(now),
			Endpoint:   url,
			Type:       eventType,
			Payload:    payload,
			ReceivedAt: now,
		}

		s.eventsForwarded.Add(1)
		for _, sink := range s.sinks {
			if !sink.Enqueue(ev) {
				s.sinkDrops.Add(1)
			}
		}
	}
}

func (s *Service) stateLogLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.StateLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.logState()
		}
	}
}

func (s *Service) logState() {
	s.mu.Lock()
	endpoints := make(map[string]string, len(s.active))
	for name, b := range s.active {
		endpoints[name] = b.cfg.URL
	}
	s.mu.Unlock()

	rs := s.router.Stats()
	s.logger.Info("gateway state",
		"endpoints", len(endpoints),
		"bindings", rs.Bindings,
		"handlers", rs.Handlers,
		"events_routed", rs.EventsRouted,
		"events_unmatched", rs.EventsUnmatched,
		"events_forwarded", s.eventsForwarded.Load(),
		"sink_drops", s.sinkDrops.Load(),
	)

	for name, url := range endpoints {
		st := s.router.State(url)
		s.logger.Debug("endpoint state",
			"endpoint", name,
			"connected", st.Connected,
			"reconnects", st.ReconnectCount,
			"connection_id", st.ConnectionID,
		)
	}
}

// sameConnection reports whether two endpoint configs share URL, headers,
// and connection settings, differing at most in their event lists.
func sameConnection(a, b config.EndpointConfig) bool {
	if a.URL != b.URL || !maps.Equal(a.Headers, b.Headers) {
		return false
	}
	return reflect.DeepEqual(a.Connection, b.Connection)
}

// connectionConfig maps endpoint settings onto the registry's config,
// keeping registry defaults for anything unset.
func connectionConfig(ep config.EndpointConfig) connection.Config {
	cc := connection.DefaultConfig()
	if ep.Connection.Reconnect != nil {
		cc.Reconnect = *ep.Connection.Reconnect
	}
	if ep.Connection.ReconnectInterval > 0 {
		cc.ReconnectInterval = ep.Connection.ReconnectInterval
	}
	if ep.Connection.MaxReconnectAttempts > 0 {
		cc.MaxReconnectAttempts = ep.Connection.MaxReconnectAttempts
	}
	if ep.Connection.ConnectionTimeout > 0 {
		cc.ConnectionTimeout = ep.Connection.ConnectionTimeout
	}
	if ep.Connection.AutoRespondToHeartbeat != nil {
		cc.AutoRespondToHeartbeat = *ep.Connection.AutoRespondToHeartbeat
	}
	if len(ep.Headers) > 0 {
		cc.Headers = maps.Clone(ep.Headers)
	}
	return cc
}
