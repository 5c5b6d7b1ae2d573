package audio

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"TeleConsult/internal/session"
)

type captureSink struct {
	mu    sync.Mutex
	units []Unit
	ch    chan Unit
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan Unit, 16)}
}

func (c *captureSink) sink(ctx context.Context, unit Unit) {
	c.mu.Lock()
	c.units = append(c.units, unit)
	c.mu.Unlock()
	c.ch <- unit
}

func (c *captureSink) wait(t *testing.T) Unit {
	t.Helper()
	select {
	case u := <-c.ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
		return Unit{}
	}
}

func (c *captureSink) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case u := <-c.ch:
		t.Fatalf("unexpected flush: %+v", u)
	case <-time.After(d):
	}
}

func testDispatcher(sink Sink, cfg Config, now *time.Time) *Dispatcher {
	logger := slog.New(slog.DiscardHandler)
	return NewDispatcher(cfg, sink, logger, noop.NewMeterProvider().Meter("test"), func() time.Time { return *now })
}

func frag(role session.Role, name string, size int, at time.Time) Fragment {
	return Fragment{
		Data:        bytes.Repeat([]byte{0xAB}, size),
		Role:        role,
		SpeakerName: name,
		ReceivedAt:  at,
	}
}

// Three fragments within the interval trip the fragment-count cap and cause
// exactly one flush.
func TestFlushOnFragmentCount(t *testing.T) {
	now := time.Now()
	cs := newCaptureSink()
	d := testDispatcher(cs.sink, Config{MaxChunkBytes: 1 << 20, FlushInterval: time.Hour}, &now)

	for i := 0; i < 3; i++ {
		d.Add("DEMO-1", frag(session.RolePatient, "Bob", 1200, now))
	}

	unit := cs.wait(t)
	if unit.SessionID != "DEMO-1" {
		t.Errorf("session = %q", unit.SessionID)
	}
	if len(unit.Data) != 3600 {
		t.Errorf("unit bytes = %d; want 3600", len(unit.Data))
	}
	if unit.Role != session.RolePatient || unit.SpeakerName != "Bob" {
		t.Errorf("attribution = %s/%s", unit.Role, unit.SpeakerName)
	}
	cs.expectNone(t, 100*time.Millisecond)
}

func TestFlushOnByteSize(t *testing.T) {
	now := time.Now()
	cs := newCaptureSink()
	d := testDispatcher(cs.sink, Config{MaxChunkBytes: 2000, FlushInterval: time.Hour}, &now)

	d.Add("s", frag(session.RolePatient, "Bob", 1500, now))
	cs.expectNone(t, 50*time.Millisecond)

	d.Add("s", frag(session.RoleDoctor, "Alice", 600, now))
	unit := cs.wait(t)
	if len(unit.Data) != 2100 {
		t.Errorf("unit bytes = %d; want 2100", len(unit.Data))
	}
	// Attributed to the most recent fragment's speaker.
	if unit.Role != session.RoleDoctor {
		t.Errorf("role = %s; want doctor", unit.Role)
	}
}

func TestFlushOnElapsedInterval(t *testing.T) {
	now := time.Now()
	cs := newCaptureSink()
	d := testDispatcher(cs.sink, Config{MaxChunkBytes: 1 << 20, FlushInterval: 5 * time.Second}, &now)

	d.Add("s", frag(session.RolePatient, "Bob", 10, now))
	cs.expectNone(t, 50*time.Millisecond)

	now = now.Add(6 * time.Second)
	d.Add("s", frag(session.RolePatient, "Bob", 10, now))
	unit := cs.wait(t)
	if len(unit.Data) != 20 {
		t.Errorf("unit bytes = %d; want 20", len(unit.Data))
	}
}

// The sweep guarantee: a buffer flushes even when fragments stop arriving.
func TestSweepFlushesStalledBuffer(t *testing.T) {
	now := time.Now()
	cs := newCaptureSink()
	d := testDispatcher(cs.sink, Config{MaxChunkBytes: 1 << 20, FlushInterval: 5 * time.Second}, &now)

	d.Add("s", frag(session.RolePatient, "Bob", 10, now))

	d.SweepOnce()
	cs.expectNone(t, 50*time.Millisecond)

	now = now.Add(5 * time.Second)
	d.SweepOnce()
	unit := cs.wait(t)
	if len(unit.Data) != 10 {
		t.Errorf("unit bytes = %d; want 10", len(unit.Data))
	}

	// Nothing left: further sweeps are no-ops.
	d.SweepOnce()
	cs.expectNone(t, 50*time.Millisecond)
}

// A flush clears the buffer before submission; later fragments never carry
// previously flushed audio.
func TestFlushClearsBuffer(t *testing.T) {
	now := time.Now()
	cs := newCaptureSink()
	d := testDispatcher(cs.sink, Config{MaxChunkBytes: 1 << 20, FlushInterval: time.Hour}, &now)

	for i := 0; i < 3; i++ {
		d.Add("s", frag(session.RolePatient, "Bob", 100, now))
	}
	first := cs.wait(t)
	if len(first.Data) != 300 {
		t.Fatalf("first unit bytes = %d", len(first.Data))
	}

	for i := 0; i < 3; i++ {
		d.Add("s", frag(session.RolePatient, "Bob", 50, now))
	}
	second := cs.wait(t)
	if len(second.Data) != 150 {
		t.Errorf("second unit bytes = %d; want 150 (no re-queued audio)", len(second.Data))
	}
}

func TestClearDropsBufferedFragments(t *testing.T) {
	now := time.Now()
	cs := newCaptureSink()
	d := testDispatcher(cs.sink, Config{MaxChunkBytes: 1 << 20, FlushInterval: 5 * time.Second}, &now)

	d.Add("s", frag(session.RolePatient, "Bob", 10, now))
	d.Clear("s")

	now = now.Add(time.Minute)
	d.SweepOnce()
	cs.expectNone(t, 100*time.Millisecond)
}

// A zeroed config must not leave the sweep ticker (FlushInterval/2) or the
// size trigger at zero.
func TestZeroConfigGetsDefaults(t *testing.T) {
	now := time.Now()
	cs := newCaptureSink()
	d := testDispatcher(cs.sink, Config{}, &now)

	if d.cfg.MaxChunkBytes <= 0 {
		t.Errorf("MaxChunkBytes = %d; want a positive default", d.cfg.MaxChunkBytes)
	}
	if d.cfg.FlushInterval <= 0 {
		t.Errorf("FlushInterval = %v; want a positive default", d.cfg.FlushInterval)
	}
	if d.cfg.MaxFragments <= 0 {
		t.Errorf("MaxFragments = %d; want a positive default", d.cfg.MaxFragments)
	}
}

// The sink runs under the dispatcher's own context, not whichever caller
// context buffered a fragment; a disconnected sender must not cancel later
// transcriptions.
func TestSinkContextOutlivesCallers(t *testing.T) {
	now := time.Now()
	errs := make(chan error, 4)
	sink := func(ctx context.Context, unit Unit) { errs <- ctx.Err() }
	d := testDispatcher(sink, Config{MaxChunkBytes: 1, FlushInterval: time.Hour}, &now)

	d.Add("s", frag(session.RolePatient, "Bob", 10, now))
	d.Add("s", frag(session.RolePatient, "Bob", 10, now))

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Errorf("flush %d ran under dead context: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for flush")
		}
	}
}

func TestSessionsFlushIndependently(t *testing.T) {
	now := time.Now()
	cs := newCaptureSink()
	d := testDispatcher(cs.sink, Config{MaxChunkBytes: 1 << 20, FlushInterval: time.Hour}, &now)

	d.Add("a", frag(session.RolePatient, "Bob", 10, now))
	d.Add("a", frag(session.RolePatient, "Bob", 10, now))
	for i := 0; i < 3; i++ {
		d.Add("b", frag(session.RoleDoctor, "Alice", 10, now))
	}

	unit := cs.wait(t)
	if unit.SessionID != "b" {
		t.Errorf("flushed session = %q; want b", unit.SessionID)
	}
	cs.expectNone(t, 100*time.Millisecond)
}
