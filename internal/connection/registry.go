package connection

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Registry is the process-wide WebSocket connection pool. Subscribing to a
// URL attaches callbacks to that URL's single shared connection, creating and
// dialing it on first use and tearing it down when the last subscriber
// leaves.
//
// All methods are safe for concurrent use, including from inside subscriber
// callbacks.
type Registry interface {
	// Subscribe attaches sub to the shared connection for url. The first
	// subscriber's cfg becomes the connection's policy; a later cfg that
	// differs is ignored with a warning. If the connection is already open,
	// OnOpen fires synchronously before Subscribe returns. The returned
	// function detaches the subscriber and is idempotent.
	Subscribe(url string, sub Subscriber, cfg Config) (unsubscribe func())

	// Send marshals msg ([]byte and json.RawMessage pass through as-is) and
	// writes it to the open connection for url. It reports whether the write
	// was handed to the transport; it never panics on a missing or closed
	// connection.
	Send(url string, msg any) bool

	// State returns a snapshot of the connection for url, or the zero State
	// if none exists.
	State(url string) State

	// SubscriberCount returns the number of subscribers attached to url.
	SubscriberCount(url string) int

	// HasConnection reports whether an entry exists for url, in any
	// lifecycle state.
	HasConnection(url string) bool

	// Reconnect forces the connection for url to drop and dial again with a
	// fresh attempt budget, even if it had exhausted its retries.
	Reconnect(url string)

	// Reset tears down every connection and forgets all subscribers.
	// Outstanding unsubscribe functions become no-ops.
	Reset()

	// Stats returns registry-wide gauges and counters.
	Stats() Stats
}

// Option configures a Registry.
type Option func(*registry)

// WithLogger sets the registry's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDialer substitutes the transport dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(r *registry) {
		if d != nil {
			r.dialer = d
		}
	}
}

// WithClock substitutes the timer source, mainly for tests.
func WithClock(c Clock) Option {
	return func(r *registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithRand fixes the jitter source so backoff delays are deterministic.
func WithRand(f func() float64) Option {
	return func(r *registry) {
		if f != nil {
			r.rand = f
		}
	}
}

// New creates an empty Registry.
func New(opts ...Option) Registry {
	r := &registry{
		logger:  slog.Default(),
		dialer:  NewDialer(),
		clock:   systemClock{},
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type registry struct {
	logger *slog.Logger
	dialer Dialer
	clock  Clock
	rand   func() float64 // nil means math/rand

	// Lock order: mu before any entry.mu. An entry present in the map is
	// never torn down, because teardown removes it under both locks.
	mu      sync.Mutex
	entries map[string]*entry

	counters counters
}

type counters struct {
	messagesReceived   atomic.Int64
	messagesDispatched atomic.Int64
	parseErrors        atomic.Int64
	pingsReceived      atomic.Int64
	pongsSent          atomic.Int64
	reconnectsPlanned  atomic.Int64
	callbackPanics     atomic.Int64
}

func (r *registry) Subscribe(url string, sub Subscriber, cfg Config) func() {
	reg := &registration{id: newSubscriberID(), sub: sub}

	r.mu.Lock()
	e, ok := r.entries[url]
	created := !ok
	if created {
		e = newEntry(url, cfg, r)
		r.entries[url] = e
	}
	e.mu.Lock()
	if !created && !cfg.equal(e.cfg) {
		r.logger.Warn("subscriber config differs from connection config, keeping existing",
			"url", url, "subscriber_id", reg.id)
	}
	e.subs = append(e.subs, reg)
	openNow := e.state == stateOpen
	e.mu.Unlock()
	r.mu.Unlock()

	r.logger.Debug("subscriber attached", "url", url, "subscriber_id", reg.id)
	if created {
		e.startAttempt(0, false)
	} else if openNow {
		// Late joiners on a live connection get their OnOpen immediately.
		r.invoke(url, "on_open", reg.sub.OnOpen)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(e, reg.id) })
	}
}

func (r *registry) unsubscribe(e *entry, id string) {
	r.mu.Lock()
	e.mu.Lock()
	idx := -1
	for i, reg := range e.subs {
		if reg.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Already gone: the registry was Reset while this unsubscribe
		// function was outstanding.
		e.mu.Unlock()
		r.mu.Unlock()
		return
	}
	e.subs = append(e.subs[:idx], e.subs[idx+1:]...)
	last := len(e.subs) == 0
	e.mu.Unlock()
	if last {
		delete(r.entries, e.url)
	}
	r.mu.Unlock()

	r.logger.Debug("subscriber detached", "url", e.url, "subscriber_id", id)
	if last {
		e.teardown()
	}
}

func (r *registry) Send(url string, msg any) bool {
	r.mu.Lock()
	e, ok := r.entries[url]
	r.mu.Unlock()
	if !ok {
		return false
	}

	data, err := encodeMessage(msg)
	if err != nil {
		r.logger.Warn("send: marshal failed", "url", url, "error", err)
		return false
	}

	e.mu.Lock()
	t := e.transport
	open := e.state == stateOpen
	e.mu.Unlock()
	if !open || t == nil {
		return false
	}
	if err := t.WriteMessage(data); err != nil {
		r.logger.Warn("send failed", "url", url, "error", err)
		return false
	}
	return true
}

func (r *registry) State(url string) State {
	r.mu.Lock()
	e, ok := r.entries[url]
	r.mu.Unlock()
	if !ok {
		return State{}
	}
	return e.stateSnapshot()
}

func (r *registry) SubscriberCount(url string) int {
	r.mu.Lock()
	e, ok := r.entries[url]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

func (r *registry) HasConnection(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[url]
	return ok
}

func (r *registry) Reconnect(url string) {
	r.mu.Lock()
	e, ok := r.entries[url]
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("reconnect requested for unknown url", "url", url)
		return
	}
	e.reconnect()
}

func (r *registry) Reset() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.teardown()
	}
	if len(entries) > 0 {
		r.logger.Info("registry reset", "connections", len(entries))
	}
}

func (r *registry) Stats() Stats {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	s := Stats{
		Entries:            len(entries),
		MessagesReceived:   r.counters.messagesReceived.Load(),
		MessagesDispatched: r.counters.messagesDispatched.Load(),
		ParseErrors:        r.counters.parseErrors.Load(),
		PingsReceived:      r.counters.pingsReceived.Load(),
		PongsSent:          r.counters.pongsSent.Load(),
		ReconnectsPlanned:  r.counters.reconnectsPlanned.Load(),
		CallbackPanics:     r.counters.callbackPanics.Load(),
	}
	for _, e := range entries {
		e.mu.Lock()
		s.Subscribers += len(e.subs)
		if e.state == stateOpen {
			s.OpenConnections++
		}
		e.mu.Unlock()
	}
	return s
}

// encodeMessage prepares an outbound payload. Pre-encoded bytes pass through
// untouched so callers can send exact wire frames.
func encodeMessage(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}

// invoke runs a subscriber callback, isolating panics from the dispatch
// loop and from the other subscribers.
func (r *registry) invoke(url, name string, f func()) {
	if f == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.counters.callbackPanics.Add(1)
			r.logger.Error("subscriber callback panicked", "url", url, "callback", name, "panic", p)
		}
	}()
	f()
}
