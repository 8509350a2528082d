package connection

import (
	"errors"
	"testing"
	"time"
)

func retryConfig(maxAttempts int) Config {
	return Config{
		Reconnect:              true,
		ReconnectInterval:      time.Second,
		MaxReconnectAttempts:   maxAttempts,
		AutoRespondToHeartbeat: true,
	}
}

func TestReconnect_BackoffSchedule(t *testing.T) {
	dialer := newScriptedDialer()
	clock := newFakeClock()
	reg := newTestRegistry(dialer, clock)

	rec := newRecorder()
	reg.Subscribe(testURL, rec.subscriber(), retryConfig(5))

	tr1 := newFakeTransport()
	dialer.expectDial(t).succeed(tr1)
	rec.wait(t, "open")
	firstID := reg.State(testURL).ConnectionID
	if firstID == "" {
		t.Fatal("ConnectionID empty after open")
	}

	// Drop the transport; the retry timer must be armed by the time
	// OnClose is observed.
	tr1.failRead(errors.New("reset by peer"))
	rec.wait(t, "error")
	rec.wait(t, "close")

	if st := reg.State(testURL); st.Connected || st.ReconnectCount != 1 {
		t.Errorf("state after failure = %+v, want disconnected with ReconnectCount 1", st)
	}
	if delays := clock.armedDelays(); len(delays) != 1 || delays[0] != 1*time.Second {
		t.Fatalf("armed delays = %v, want [1s]", delays)
	}

	// First retry fails at dial time; the delay doubles.
	clock.advance(1 * time.Second)
	dialer.expectDial(t).fail(errors.New("connection refused"))
	rec.wait(t, "close")
	if st := reg.State(testURL); st.ReconnectCount != 2 {
		t.Errorf("ReconnectCount = %d, want 2", st.ReconnectCount)
	}
	if delays := clock.armedDelays(); len(delays) != 1 || delays[0] != 2*time.Second {
		t.Fatalf("armed delays = %v, want [2s]", delays)
	}

	// Second retry succeeds; the counter resets and the connection gets a
	// fresh id.
	clock.advance(2 * time.Second)
	tr2 := newFakeTransport()
	dialer.expectDial(t).succeed(tr2)
	rec.wait(t, "open")

	st := reg.State(testURL)
	if !st.Connected {
		t.Error("State.Connected = false after reconnect")
	}
	if st.ReconnectCount != 0 {
		t.Errorf("ReconnectCount = %d after success, want 0", st.ReconnectCount)
	}
	if st.ConnectionID == "" || st.ConnectionID == firstID {
		t.Errorf("ConnectionID = %q, want a fresh id (was %q)", st.ConnectionID, firstID)
	}
}

func TestReconnect_Exhaustion(t *testing.T) {
	dialer := newScriptedDialer()
	clock := newFakeClock()
	reg := newTestRegistry(dialer, clock)

	rec := newRecorder()
	reg.Subscribe(testURL, rec.subscriber(), retryConfig(2))

	dialer.expectDial(t).fail(errors.New("dial tcp: connection refused"))
	rec.wait(t, "close")

	clock.advance(1 * time.Second)
	dialer.expectDial(t).fail(errors.New("dial tcp: connection refused"))
	rec.wait(t, "close")

	clock.advance(2 * time.Second)
	dialer.expectDial(t).fail(errors.New("dial tcp: connection refused"))
	rec.wait(t, "exhausted")

	st := reg.State(testURL)
	if !st.ExhaustedRetries {
		t.Error("ExhaustedRetries = false, want true")
	}
	if st.Connected {
		t.Error("Connected = true after exhaustion")
	}
	if st.ReconnectCount != 3 {
		t.Errorf("ReconnectCount = %d, want 3", st.ReconnectCount)
	}

	// No further attempts, no matter how long we wait.
	clock.advance(time.Hour)
	dialer.expectNoDial(t, 50*time.Millisecond)

	exhaustedEvents := 0
	for _, ev := range rec.snapshot() {
		if ev == "exhausted" {
			exhaustedEvents++
		}
	}
	if exhaustedEvents != 1 {
		t.Errorf("OnMaxRetriesExhausted fired %d times, want 1", exhaustedEvents)
	}
}

func TestReconnect_ManualAfterExhaustion(t *testing.T) {
	dialer := newScriptedDialer()
	clock := newFakeClock()
	reg := newTestRegistry(dialer, clock)

	rec := newRecorder()
	reg.Subscribe(testURL, rec.subscriber(), retryConfig(1))

	dialer.expectDial(t).fail(errors.New("refused"))
	rec.wait(t, "close")
	clock.advance(1 * time.Second)
	dialer.expectDial(t).fail(errors.New("refused"))
	rec.wait(t, "exhausted")

	// Manual reconnect restores a full attempt budget.
	reg.Reconnect(testURL)
	tr := newFakeTransport()
	dialer.expectDial(t).succeed(tr)
	rec.wait(t, "open")

	st := reg.State(testURL)
	if st.ExhaustedRetries {
		t.Error("ExhaustedRetries = true after manual reconnect succeeded")
	}
	if st.ReconnectCount != 0 {
		t.Errorf("ReconnectCount = %d, want 0", st.ReconnectCount)
	}
	if !st.Connected {
		t.Error("Connected = false after manual reconnect")
	}
}

func TestReconnect_ManualWhileOpen(t *testing.T) {
	dialer := newScriptedDialer()
	clock := newFakeClock()
	reg := newTestRegistry(dialer, clock)

	rec := newRecorder()
	reg.Subscribe(testURL, rec.subscriber(), retryConfig(5))

	tr1 := newFakeTransport()
	dialer.expectDial(t).succeed(tr1)
	rec.wait(t, "open")

	reg.Reconnect(testURL)
	if !tr1.isClosed() {
		t.Error("manual reconnect left the old transport open")
	}

	tr2 := newFakeTransport()
	dialer.expectDial(t).succeed(tr2)
	rec.wait(t, "open")

	// The self-inflicted close of the old transport is not reported as a
	// disconnect.
	time.Sleep(50 * time.Millisecond)
	for _, ev := range rec.snapshot() {
		if ev == "close" || ev == "error" {
			t.Fatalf("manual reconnect surfaced a disconnect: %v", rec.snapshot())
		}
	}
}

func TestReconnect_Disabled(t *testing.T) {
	dialer := newScriptedDialer()
	clock := newFakeClock()
	reg := newTestRegistry(dialer, clock)

	cfg := retryConfig(5)
	cfg.Reconnect = false

	rec := newRecorder()
	reg.Subscribe(testURL, rec.subscriber(), cfg)

	dialer.expectDial(t).fail(errors.New("refused"))
	rec.wait(t, "error")
	rec.wait(t, "close")

	clock.advance(time.Hour)
	dialer.expectNoDial(t, 50*time.Millisecond)

	st := reg.State(testURL)
	if st.Connected {
		t.Error("Connected = true, want false")
	}
	if st.ExhaustedRetries {
		t.Error("ExhaustedRetries = true; disabling reconnect is not exhaustion")
	}
	for _, ev := range rec.snapshot() {
		if ev == "exhausted" {
			t.Error("OnMaxRetriesExhausted fired with reconnect disabled")
		}
	}
}

func TestReconnect_ConnectTimeout(t *testing.T) {
	dialer := newScriptedDialer()
	clock := newFakeClock()
	reg := newTestRegistry(dialer, clock)

	cfg := retryConfig(5)
	cfg.ConnectionTimeout = 10 * time.Second

	rec := newRecorder()
	reg.Subscribe(testURL, rec.subscriber(), cfg)

	// Leave the dial hanging past the deadline.
	dialer.expectDial(t)
	clock.advance(10 * time.Second)
	rec.wait(t, "close")

	// A timeout is a close, not an error.
	for _, ev := range rec.snapshot() {
		if ev == "error" {
			t.Fatalf("timeout surfaced as OnError: %v", rec.snapshot())
		}
	}
	if st := reg.State(testURL); st.ReconnectCount != 1 {
		t.Errorf("ReconnectCount = %d, want 1", st.ReconnectCount)
	}

	// The abandoned attempt retries on the normal backoff schedule.
	clock.advance(1 * time.Second)
	tr := newFakeTransport()
	dialer.expectDial(t).succeed(tr)
	rec.wait(t, "open")
}

func TestReconnect_LateTimeoutAfterOpen(t *testing.T) {
	dialer := newScriptedDialer()
	clock := newFakeClock()
	reg := newTestRegistry(dialer, clock)

	cfg := retryConfig(5)
	cfg.ConnectionTimeout = 10 * time.Second

	rec := newRecorder()
	reg.Subscribe(testURL, rec.subscriber(), cfg)

	tr := newFakeTransport()
	dialer.expectDial(t).succeed(tr)
	rec.wait(t, "open")

	// Replay the connect timer callback as if it had started firing just as
	// the dial succeeded and lost the race to the lock. The open connection
	// must survive.
	clock.mu.Lock()
	timers := append([]*fakeTimer(nil), clock.timers...)
	clock.mu.Unlock()
	for _, tm := range timers {
		tm.f()
	}

	if st := reg.State(testURL); !st.Connected {
		t.Error("Connected = false after stale connect timeout fired")
	}
	for _, ev := range rec.snapshot() {
		if ev == "close" {
			t.Fatalf("stale connect timeout closed the connection: %v", rec.snapshot())
		}
	}
}

func TestUnsubscribe_DuringReconnectCancelsRetry(t *testing.T) {
	dialer := newScriptedDialer()
	clock := newFakeClock()
	reg := newTestRegistry(dialer, clock)

	rec := newRecorder()
	unsub := reg.Subscribe(testURL, rec.subscriber(), retryConfig(5))

	tr := newFakeTransport()
	dialer.expectDial(t).succeed(tr)
	rec.wait(t, "open")

	tr.failRead(errors.New("reset by peer"))
	rec.wait(t, "close")

	unsub()
	clock.advance(time.Hour)
	dialer.expectNoDial(t, 50*time.Millisecond)
	if reg.HasConnection(testURL) {
		t.Error("entry survived last unsubscribe during reconnect")
	}
}
