package router

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/statusdeck/streamgate/internal/connection"
)

// Handler receives the payload of one routed event. The router extracts the
// payload from the envelope before dispatch, so handlers only see the value
// field, never the type tag.
type Handler func(payload json.RawMessage)

// Router turns the shared connection for a URL into independently
// registerable, typed event streams. However many event types and handlers
// are registered against one URL, the router holds exactly one Subscriber on
// the underlying registry for it.
type Router interface {
	// On registers handler for events of the given type on the shared
	// connection for url, dialing it if this is the url's first handler.
	// The returned function unregisters the handler and is idempotent;
	// removing the last handler for a url releases the underlying
	// subscription.
	On(url, eventType string, handler Handler) (off func())

	// Configure sets the connection policy used when the router creates
	// the subscription for url. It has no effect on a binding that already
	// exists.
	Configure(url string, cfg connection.Config)

	// Send proxies to the registry.
	Send(url string, msg any) bool

	// State proxies the connection state snapshot for url.
	State(url string) connection.State

	// Reconnect proxies a manual reconnect request for url.
	Reconnect(url string)

	// Reset unregisters every handler and releases every subscription.
	Reset()

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	Bindings        int   // URLs with at least one handler
	Handlers        int   // registered handlers across all URLs
	EventsRouted    int64 // envelopes delivered to at least one handler
	EventsUnmatched int64 // envelopes whose type had no handler
	HandlerPanics   int64 // recovered panics from event handlers
}

// router is the internal implementation.
type router struct {
	registry connection.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	configs  map[string]connection.Config
	bindings map[string]*binding

	routed    atomic.Int64
	unmatched atomic.Int64
	panics    atomic.Int64
}

// binding is the router's per-URL state: the single registry subscription
// plus the handler lists keyed by event type.
type binding struct {
	unsub    func()
	handlers map[string][]typedHandler
}

type typedHandler struct {
	id int64
	fn Handler
}

var handlerSeq atomic.Int64

// NewRouter creates a typed event router on top of reg.
func NewRouter(reg connection.Registry, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &router{
		registry: reg,
		logger:   logger,
		configs:  make(map[string]connection.Config),
		bindings: make(map[string]*binding),
	}
}

func (r *router) On(url, eventType string, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	th := typedHandler{id: handlerSeq.Add(1), fn: handler}

	r.mu.Lock()
	b, ok := r.bindings[url]
	if !ok {
		b = &binding{handlers: make(map[string][]typedHandler)}
		r.bindings[url] = b
		cfg, configured := r.configs[url]
		if !configured {
			cfg = connection.DefaultConfig()
		}
		// Safe under mu: the registry never calls back into the router
		// while holding its own locks, and this subscriber has no OnOpen
		// to fire synchronously.
		b.unsub = r.registry.Subscribe(url, connection.Subscriber{
			OnMessage: func(env connection.Envelope) { r.dispatch(url, env) },
			OnError: func(err error) {
				r.logger.Warn("stream error", "url", url, "error", err)
			},
		}, cfg)
	}
	b.handlers[eventType] = append(b.handlers[eventType], th)
	r.mu.Unlock()

	r.logger.Debug("handler registered", "url", url, "event", eventType)

	var once sync.Once
	return func() {
		once.Do(func() { r.off(url, eventType, th.id) })
	}
}

func (r *router) off(url, eventType string, id int64) {
	r.mu.Lock()
	b, ok := r.bindings[url]
	if !ok {
		r.mu.Unlock()
		return
	}
	hs := b.handlers[eventType]
	for i, th := range hs {
		if th.id == id {
			b.handlers[eventType] = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
	var unsub func()
	if len(b.handlers) == 0 {
		unsub = b.unsub
		delete(r.bindings, url)
	}
	r.mu.Unlock()

	if unsub != nil {
		unsub()
		r.logger.Debug("binding released", "url", url)
	}
}

// dispatch fans one envelope out to the handlers registered for its type.
// The handler list is snapshotted first so a handler registering or
// unregistering mid-dispatch cannot corrupt the iteration.
func (r *router) dispatch(url string, env connection.Envelope) {
	r.mu.Lock()
	var hs []typedHandler
	if b, ok := r.bindings[url]; ok {
		hs = append(hs, b.handlers[env.Type]...)
	}
	r.mu.Unlock()

	if len(hs) == 0 {
		r.unmatched.Add(1)
		r.logger.Debug("no handler for event", "url", url, "event", env.Type)
		return
	}
	payload := env.Value()
	for _, th := range hs {
		r.call(url, env.Type, th.fn, payload)
	}
	r.routed.Add(1)
}

// call isolates a handler panic from the sibling handlers of the same event.
func (r *router) call(url, event string, fn Handler, payload json.RawMessage) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.logger.Error("event handler panicked", "url", url, "event", event, "panic", p)
		}
	}()
	fn(payload)
}

func (r *router) Configure(url string, cfg connection.Config) {
	r.mu.Lock()
	r.configs[url] = cfg
	_, bound := r.bindings[url]
	r.mu.Unlock()
	if bound {
		r.logger.Warn("configure called after binding exists, config applies to future bindings only", "url", url)
	}
}

func (r *router) Send(url string, msg any) bool {
	return r.registry.Send(url, msg)
}

func (r *router) State(url string) connection.State {
	return r.registry.State(url)
}

func (r *router) Reconnect(url string) {
	r.registry.Reconnect(url)
}

func (r *router) Reset() {
	r.mu.Lock()
	unsubs := make([]func(), 0, len(r.bindings))
	for _, b := range r.bindings {
		if b.unsub != nil {
			unsubs = append(unsubs, b.unsub)
		}
	}
	r.bindings = make(map[string]*binding)
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if len(unsubs) > 0 {
		r.logger.Info("router reset", "bindings", len(unsubs))
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.Lock()
	s := RouterStats{Bindings: len(r.bindings)}
	for _, b := range r.bindings {
		for _, hs := range b.handlers {
			s.Handlers += len(hs)
		}
	}
	r.mu.Unlock()

	s.EventsRouted = r.routed.Load()
	s.EventsUnmatched = r.unmatched.Load()
	s.HandlerPanics = r.panics.Load()
	return s
}
