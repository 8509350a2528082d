package router

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/statusdeck/streamgate/internal/connection"
)

// fakeRegistry implements connection.Registry with synchronous dispatch so
// router behavior can be asserted without sockets or sleeps.
type fakeRegistry struct {
	mu           sync.Mutex
	subs         map[string]connection.Subscriber
	cfgs         map[string]connection.Config
	subscribes   int
	unsubscribes int
	sent         map[string][]any
	sendResult   bool
	states       map[string]connection.State
	reconnects   []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		subs:       make(map[string]connection.Subscriber),
		cfgs:       make(map[string]connection.Config),
		sent:       make(map[string][]any),
		states:     make(map[string]connection.State),
		sendResult: true,
	}
}

func (f *fakeRegistry) Subscribe(url string, sub connection.Subscriber, cfg connection.Config) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.subs[url] = sub
	f.cfgs[url] = cfg
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribes++
		delete(f.subs, url)
	}
}

func (f *fakeRegistry) Send(url string, msg any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[url] = append(f.sent[url], msg)
	return f.sendResult
}

func (f *fakeRegistry) State(url string) connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[url]
}

func (f *fakeRegistry) SubscriberCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[url]; ok {
		return 1
	}
	return 0
}

func (f *fakeRegistry) HasConnection(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[url]
	return ok
}

func (f *fakeRegistry) Reconnect(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects = append(f.reconnects, url)
}

func (f *fakeRegistry) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = make(map[string]connection.Subscriber)
}

func (f *fakeRegistry) Stats() connection.Stats {
	return connection.Stats{}
}

// emit feeds one frame through the subscriber the router registered.
func (f *fakeRegistry) emit(t *testing.T, url, frame string) {
	t.Helper()
	var env connection.Envelope
	if err := json.Unmarshal([]byte(frame), &env); err != nil {
		t.Fatalf("bad frame %q: %v", frame, err)
	}
	f.mu.Lock()
	sub, ok := f.subs[url]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no subscriber registered for %s", url)
	}
	if sub.OnMessage != nil {
		sub.OnMessage(env)
	}
}

func newTestRouter(f *fakeRegistry) Router {
	return NewRouter(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const streamURL = "wss://push.example.com/v1/stream"

func TestOn_OneSubscriberPerURL(t *testing.T) {
	fake := newFakeRegistry()
	r := newTestRouter(fake)

	r.On(streamURL, "deploy", func(json.RawMessage) {})
	r.On(streamURL, "deploy", func(json.RawMessage) {})
	r.On(streamURL, "alert", func(json.RawMessage) {})

	if fake.subscribes != 1 {
		t.Errorf("registry subscriptions = %d, want 1", fake.subscribes)
	}
	s := r.Stats()
	if s.Bindings != 1 {
		t.Errorf("Bindings = %d, want 1", s.Bindings)
	}
	if s.Handlers != 3 {
		t.Errorf("Handlers = %d, want 3", s.Handlers)
	}
}

func TestDispatch_ByType(t *testing.T) {
	fake := newFakeRegistry()
	r := newTestRouter(fake)

	var deploys, alerts []string
	r.On(streamURL, "deploy", func(p json.RawMessage) { deploys = append(deploys, string(p)) })
	r.On(streamURL, "alert", func(p json.RawMessage) { alerts = append(alerts, string(p)) })

	fake.emit(t, streamURL, `{"type":"deploy","payload":{"service":"api"}}`)
	fake.emit(t, streamURL, `{"type":"alert","data":{"severity":"high"}}`)

	if len(deploys) != 1 || deploys[0] != `{"service":"api"}` {
		t.Errorf("deploy handler got %v", deploys)
	}
	if len(alerts) != 1 || alerts[0] != `{"severity":"high"}` {
		t.Errorf("alert handler got %v (payload must come from data when payload is absent)", alerts)
	}

	s := r.Stats()
	if s.EventsRouted != 2 {
		t.Errorf("EventsRouted = %d, want 2", s.EventsRouted)
	}
}

func TestDispatch_HandlerOrder(t *testing.T) {
	fake := newFakeRegistry()
	r := newTestRouter(fake)

	var order []int
	for i := 1; i <= 3; i++ {
		n := i
		r.On(streamURL, "tick", func(json.RawMessage) { order = append(order, n) })
	}

	fake.emit(t, streamURL, `{"type":"tick"}`)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("handler order = %v, want [1 2 3]", order)
	}
}

func TestDispatch_Unmatched(t *testing.T) {
	fake := newFakeRegistry()
	r := newTestRouter(fake)

	called := false
	r.On(streamURL, "deploy", func(json.RawMessage) { called = true })

	fake.emit(t, streamURL, `{"type":"unknown_event"}`)

	if called {
		t.Error("handler for a different type was invoked")
	}
	s := r.Stats()
	if s.EventsUnmatched != 1 {
		t.Errorf("EventsUnmatched = %d, want 1", s.EventsUnmatched)
	}
	if s.EventsRouted != 0 {
		t.Errorf("EventsRouted = %d, want 0", s.EventsRouted)
	}
}

func TestDispatch_PanicIsolation(t *testing.T) {
	fake := newFakeRegistry()
	r := newTestRouter(fake)

	secondRan := false
	r.On(streamURL, "tick", func(json.RawMessage) { panic("handler bug") })
	r.On(streamURL, "tick", func(json.RawMessage) { secondRan = true })

	fake.emit(t, streamURL, `{"type":"tick"}`)

	if !secondRan {
		t.Error("panic in first handler suppressed the second")
	}
	if got := r.Stats().HandlerPanics; got != 1 {
		t.Errorf("HandlerPanics = %d, want 1", got)
	}
}

func TestDispatch_ReentrantOff(t *testing.T) {
	fake := newFakeRegistry()
	r := newTestRouter(fake)

	calls := 0
	var off func()
	off = r.On(streamURL, "tick", func(json.RawMessage) {
		calls++
		off()
	})
	r.On(streamURL, "keepalive", func(json.RawMessage) {})

	fake.emit(t, streamURL, `{"type":"tick"}`)
	fake.emit(t, streamURL, `{"type":"tick"}`)

	if calls != 1 {
		t.Errorf("self-unregistering handler ran %d times, want 1", calls)
	}
}

func TestOff_ReleasesSubscription(t *testing.T) {
	fake := newFakeRegistry()
	r := newTestRouter(fake)

	off1 := r.On(streamURL, "deploy", func(json.RawMessage) {})
	off2 := r.On(streamURL, "alert", func(json.RawMessage) {})

	off1()
	if fake.unsubscribes != 0 {
		t.Error("subscription released while a handler remains")
	}
	off2()
	off2()
	if fake.unsubscribes != 1 {
		t.Errorf("registry unsubscribes = %d, want 1", fake.unsubscribes)
	}

	// A new handler after release dials again.
	r.On(streamURL, "deploy", func(json.RawMessage) {})
	if fake.subscribes != 2 {
		t.Errorf("registry subscriptions = %d, want 2", fake.subscribes)
	}
}

func TestConfigure_AppliesToNewBindings(t *testing.T) {
	fake := newFakeRegistry()
	r := newTestRouter(fake)

	cfg := connection.DefaultConfig()
	cfg.MaxReconnectAttempts = 9
	cfg.ConnectionTimeout = 3 * time.Second
	r.Configure(streamURL, cfg)

	r.On(streamURL, "deploy", func(json.RawMessage) {})

	got := fake.cfgs[streamURL]
	if got.MaxReconnectAttempts != 9 {
		t.Errorf("MaxReconnectAttempts = %d, want 9", got.MaxReconnectAttempts)
	}
	if got.ConnectionTimeout != 3*time.Second {
		t.Errorf("ConnectionTimeout = %v, want 3s", got.ConnectionTimeout)
	}
}

func TestRouter_Proxies(t *testing.T) {
	fake := newFakeRegistry()
	fake.states[streamURL] = connection.State{Connected: true, ConnectionID: "ws-abc-123"}
	r := newTestRouter(fake)

	if !r.Send(streamURL, map[string]string{"type": "subscribe"}) {
		t.Error("Send = false, want the registry's true")
	}
	if len(fake.sent[streamURL]) != 1 {
		t.Errorf("registry recorded %d sends, want 1", len(fake.sent[streamURL]))
	}

	st := r.State(streamURL)
	if !st.Connected || st.ConnectionID != "ws-abc-123" {
		t.Errorf("State = %+v, want the registry snapshot", st)
	}

	r.Reconnect(streamURL)
	if len(fake.reconnects) != 1 || fake.reconnects[0] != streamURL {
		t.Errorf("reconnects = %v, want [%s]", fake.reconnects, streamURL)
	}
}

func TestRouter_Reset(t *testing.T) {
	fake := newFakeRegistry()
	r := newTestRouter(fake)

	r.On(streamURL, "deploy", func(json.RawMessage) {})
	r.On("wss://push.example.com/v1/other", "alert", func(json.RawMessage) {})

	r.Reset()

	if fake.unsubscribes != 2 {
		t.Errorf("registry unsubscribes = %d, want 2", fake.unsubscribes)
	}
	if s := r.Stats(); s.Bindings != 0 || s.Handlers != 0 {
		t.Errorf("Stats after Reset = %+v, want empty", s)
	}

	r.On(streamURL, "deploy", func(json.RawMessage) {})
	if fake.subscribes != 3 {
		t.Errorf("registry subscriptions = %d, want 3", fake.subscribes)
	}
}
