package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// entry owns the lifecycle of the single shared connection for one endpoint
// URL: the live transport, the subscriber list, and the reconnect schedule.
//
// Every asynchronous continuation (dial result, connect timer, reconnect
// timer, read loop) captures the generation counter at its start and
// re-checks it under the lock before acting. Bumping gen is how the entry
// abandons in-flight work: a stale dial that lands after a teardown or a
// manual reconnect simply finds a newer generation and discards itself.
type entry struct {
	url string
	cfg Config
	reg *registry

	// All fields below are guarded by mu. Callbacks are never invoked and
	// transports are never closed while mu is held.
	mu             sync.Mutex
	state          entryState
	gen            uint64
	transport      Transport
	subs           []*registration
	reconnectCount int
	exhausted      bool
	connectionID   string
	lastHeartbeat  time.Time
	lastPong       time.Time
	connectTimer   Timer
	reconnectTimer Timer
	dialCancel     context.CancelFunc
	tornDown       bool
}

// registration pairs a subscriber id with its callbacks.
type registration struct {
	id  string
	sub Subscriber
}

func newEntry(url string, cfg Config, reg *registry) *entry {
	return &entry{url: url, cfg: cfg, reg: reg, state: stateIdle}
}

// startAttempt transitions to Connecting and spawns a dial. When require is
// true the attempt proceeds only if the generation still equals gen, which is
// how reconnect timers avoid double-dialing after a manual Reconnect or a
// teardown won the race.
func (e *entry) startAttempt(gen uint64, require bool) {
	e.mu.Lock()
	if e.tornDown || (require && gen != e.gen) {
		e.mu.Unlock()
		return
	}
	e.gen++
	cur := e.gen
	attempt := e.reconnectCount
	e.state = stateConnecting
	e.stopTimersLocked()
	ctx, cancel := context.WithCancel(context.Background())
	e.dialCancel = cancel
	if e.cfg.ConnectionTimeout > 0 {
		e.connectTimer = e.reg.clock.AfterFunc(e.cfg.ConnectionTimeout, func() {
			e.fail(cur, ErrConnectTimeout)
		})
	}
	e.mu.Unlock()

	e.reg.logger.Debug("dialing", "url", e.url, "attempt", attempt)
	go e.dial(ctx, cur)
}

func (e *entry) dial(ctx context.Context, gen uint64) {
	var header http.Header
	if len(e.cfg.Headers) > 0 {
		header = make(http.Header, len(e.cfg.Headers))
		for k, v := range e.cfg.Headers {
			header.Set(k, v)
		}
	}
	t, err := e.reg.dialer.DialContext(ctx, e.url, header)
	if err != nil {
		e.fail(gen, err)
		return
	}
	e.opened(gen, t)
}

// opened installs a freshly dialed transport and notifies subscribers. It
// starts a new generation, so a connect timer that already fired but lost the
// race to the lock finds itself stale instead of killing the live connection.
func (e *entry) opened(gen uint64, t Transport) {
	e.mu.Lock()
	if gen != e.gen || e.tornDown {
		e.mu.Unlock()
		t.Close()
		return
	}
	e.gen++
	cur := e.gen
	e.stopTimersLocked()
	cancel := e.takeDialCancelLocked()
	e.transport = t
	e.state = stateOpen
	e.reconnectCount = 0
	e.exhausted = false
	e.connectionID = newConnectionID(e.reg.clock.Now())
	cid := e.connectionID
	subs := e.snapshotLocked()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.reg.logger.Info("connection open", "url", e.url, "connection_id", cid)
	for _, r := range subs {
		e.reg.invoke(e.url, "on_open", r.sub.OnOpen)
	}
	go e.readLoop(cur, t)
}

// fail ends attempt gen, whether it was a dial error, a connect timeout, or a
// dead transport. cause is nil for an orderly server close. The next step
// (retry, give up, or stay closed) is decided and the retry timer armed
// before any callback runs, so a subscriber observing OnClose can rely on the
// reconnect already being scheduled.
func (e *entry) fail(gen uint64, cause error) {
	e.mu.Lock()
	if gen != e.gen || e.tornDown {
		e.mu.Unlock()
		return
	}
	e.gen++
	e.stopTimersLocked()
	cancel := e.takeDialCancelLocked()
	t := e.transport
	e.transport = nil
	e.reconnectCount++
	attempt := e.reconnectCount

	var delay time.Duration
	switch {
	case !e.cfg.Reconnect:
		e.state = stateClosed
	case attempt <= e.cfg.MaxReconnectAttempts:
		e.state = stateReconnecting
		delay = e.backoffDelay(attempt)
		next := e.gen
		e.reconnectTimer = e.reg.clock.AfterFunc(delay, func() {
			e.startAttempt(next, true)
		})
	default:
		e.state = stateExhausted
		e.exhausted = true
	}
	state := e.state
	subs := e.snapshotLocked()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		t.Close()
	}

	switch {
	case errors.Is(cause, ErrConnectTimeout):
		e.reg.logger.Warn("connect timeout", "url", e.url, "timeout", e.cfg.ConnectionTimeout, "state", state)
	case cause != nil:
		e.reg.logger.Warn("connection failed", "url", e.url, "error", cause, "state", state)
	default:
		e.reg.logger.Info("connection closed", "url", e.url, "state", state)
	}
	if state == stateReconnecting {
		e.reg.counters.reconnectsPlanned.Add(1)
		e.reg.logger.Info("reconnect scheduled", "url", e.url, "attempt", attempt, "delay", delay)
	}

	// Timeouts surface as a close, not an error: the attempt never produced
	// a connection for subscribers to fail on.
	if cause != nil && !errors.Is(cause, ErrConnectTimeout) {
		for _, r := range subs {
			if cb := r.sub.OnError; cb != nil {
				e.reg.invoke(e.url, "on_error", func() { cb(cause) })
			}
		}
	}
	for _, r := range subs {
		e.reg.invoke(e.url, "on_close", r.sub.OnClose)
	}
	if state == stateExhausted {
		e.reg.logger.Error("reconnect attempts exhausted", "url", e.url, "attempts", e.cfg.MaxReconnectAttempts)
		for _, r := range subs {
			e.reg.invoke(e.url, "on_max_retries", r.sub.OnMaxRetriesExhausted)
		}
	}
}

// reconnect is the manual retry path: it abandons any live connection or
// in-flight attempt without notifying subscribers and starts over with a
// zeroed attempt counter.
func (e *entry) reconnect() {
	e.mu.Lock()
	if e.tornDown {
		e.mu.Unlock()
		return
	}
	e.gen++
	e.stopTimersLocked()
	cancel := e.takeDialCancelLocked()
	t := e.transport
	e.transport = nil
	e.reconnectCount = 0
	e.exhausted = false
	e.state = stateIdle
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		t.Close()
	}
	e.reg.logger.Info("manual reconnect", "url", e.url)
	e.startAttempt(0, false)
}

// teardown permanently retires the entry. The registry removes it from the
// URL map separately; after teardown every pending continuation is stale.
func (e *entry) teardown() {
	e.mu.Lock()
	if e.tornDown {
		e.mu.Unlock()
		return
	}
	e.tornDown = true
	e.gen++
	e.stopTimersLocked()
	cancel := e.takeDialCancelLocked()
	t := e.transport
	e.transport = nil
	e.subs = nil
	e.state = stateClosed
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		t.Close()
	}
	e.reg.logger.Debug("connection torn down", "url", e.url)
}

// readLoop delivers frames until the transport dies or the attempt is
// superseded.
func (e *entry) readLoop(gen uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			if isCleanClose(err) {
				err = nil
			}
			e.fail(gen, err)
			return
		}
		if !e.deliver(gen, data) {
			return
		}
	}
}

// deliver routes one inbound frame: heartbeats update liveness state and stay
// internal, everything else fans out to subscribers in registration order.
// It reports whether the read loop should continue.
func (e *entry) deliver(gen uint64, data []byte) bool {
	e.reg.counters.messagesReceived.Add(1)

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		e.reg.counters.parseErrors.Add(1)
		e.reg.logger.Warn("dropping unparseable frame", "url", e.url, "error", err, "bytes", len(data))
		return e.current(gen)
	}

	switch env.Type {
	case heartbeatPingType:
		return e.handlePing(gen)
	case heartbeatPongType:
		return e.handlePong(gen)
	default:
		return e.broadcast(gen, env)
	}
}

func (e *entry) handlePing(gen uint64) bool {
	e.mu.Lock()
	if gen != e.gen || e.tornDown {
		e.mu.Unlock()
		return false
	}
	e.lastHeartbeat = e.reg.clock.Now()
	respond := e.cfg.AutoRespondToHeartbeat
	t := e.transport
	subs := e.snapshotLocked()
	e.mu.Unlock()

	e.reg.counters.pingsReceived.Add(1)
	// One pong per ping, regardless of how many subscribers are attached.
	if respond && t != nil {
		if err := t.WriteMessage(pongFrame); err != nil {
			e.reg.logger.Warn("pong write failed", "url", e.url, "error", err)
		} else {
			e.reg.counters.pongsSent.Add(1)
		}
	}
	for _, r := range subs {
		e.reg.invoke(e.url, "on_heartbeat", r.sub.OnHeartbeat)
	}
	return true
}

func (e *entry) handlePong(gen uint64) bool {
	e.mu.Lock()
	if gen != e.gen || e.tornDown {
		e.mu.Unlock()
		return false
	}
	e.lastPong = e.reg.clock.Now()
	e.mu.Unlock()
	return true
}

func (e *entry) broadcast(gen uint64, env Envelope) bool {
	e.mu.Lock()
	if gen != e.gen || e.tornDown {
		e.mu.Unlock()
		return false
	}
	subs := e.snapshotLocked()
	e.mu.Unlock()

	for _, r := range subs {
		if cb := r.sub.OnMessage; cb != nil {
			e.reg.invoke(e.url, "on_message", func() { cb(env) })
		}
	}
	e.reg.counters.messagesDispatched.Add(1)
	return true
}

func (e *entry) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.gen && !e.tornDown
}

// snapshotLocked copies the subscriber list so callbacks run against a stable
// view: a subscriber added or removed mid-dispatch takes effect from the next
// frame.
func (e *entry) snapshotLocked() []*registration {
	out := make([]*registration, len(e.subs))
	copy(out, e.subs)
	return out
}

func (e *entry) stopTimersLocked() {
	if e.connectTimer != nil {
		e.connectTimer.Stop()
		e.connectTimer = nil
	}
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
}

func (e *entry) takeDialCancelLocked() context.CancelFunc {
	cancel := e.dialCancel
	e.dialCancel = nil
	return cancel
}

func (e *entry) backoffDelay(attempt int) time.Duration {
	b := Backoff{
		Base:   e.cfg.ReconnectInterval,
		Cap:    DefaultBackoffCap,
		Jitter: DefaultBackoffJitter,
		Rand:   e.reg.rand,
	}
	return b.Delay(attempt)
}

func (e *entry) stateSnapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Connected:        e.state == stateOpen,
		ReconnectCount:   e.reconnectCount,
		ExhaustedRetries: e.exhausted,
		ConnectionID:     e.connectionID,
		LastHeartbeat:    e.lastHeartbeat,
		LastPong:         e.lastPong,
	}
}
