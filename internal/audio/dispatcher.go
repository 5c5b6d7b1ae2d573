// Package audio accumulates inbound audio fragments per session and decides
// when to flush them to transcription.
package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"TeleConsult/internal/session"
)

// Fragment is one inbound audio chunk tagged with its speaker and arrival time.
type Fragment struct {
	Data        []byte
	Role        session.Role
	SpeakerName string
	ReceivedAt  time.Time
}

// Unit is one flushed audio unit: buffered fragments concatenated in arrival
// order, attributed to the most recent fragment's speaker.
type Unit struct {
	SessionID   string
	Data        []byte
	Role        session.Role
	SpeakerName string
	FlushedAt   time.Time
}

// Sink consumes flushed units. Calls are serialized per session: a unit is
// not submitted until the previous one for the same session has returned, so
// transcript order matches flush order matches arrival order.
type Sink func(ctx context.Context, unit Unit)

// Config holds the flush trigger thresholds.
type Config struct {
	// MaxChunkBytes flushes once the accumulated byte total reaches it.
	MaxChunkBytes int
	// FlushInterval flushes once this much time has passed since last flush.
	FlushInterval time.Duration
	// MaxFragments caps buffered fragment count; bounds latency even under
	// irregular fragment sizes.
	MaxFragments int
}

// Dispatcher owns the per-session buffers. A sweep ticker at half the flush
// interval catches buffers whose fragment arrival went sparse, so a buffer
// never waits more than about one-and-a-half intervals.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger
	meter  metric.Meter
	now    func() time.Time

	mu      sync.Mutex
	buffers map[string]*sessionBuffer
	closed  bool
}

type sessionBuffer struct {
	fragments []Fragment
	bytes     int
	lastFlush time.Time
	units     chan Unit
}

const unitQueueDepth = 16

// NewDispatcher creates a dispatcher. now may be nil (time.Now); tests inject
// a fake clock.
func NewDispatcher(cfg Config, sink Sink, logger *slog.Logger, meter metric.Meter, now func() time.Time) *Dispatcher {
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = 3
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = 64 * 1024
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		meter:   meter,
		now:     now,
		buffers: make(map[string]*sessionBuffer),
	}
}

// Add buffers a fragment for sessionID and flushes if any trigger fires.
// Callers gate on recording state; fragments for idle sessions never reach
// the dispatcher.
func (d *Dispatcher) Add(sessionID string, frag Fragment) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	sb, ok := d.buffers[sessionID]
	if !ok {
		sb = &sessionBuffer{
			lastFlush: d.now(),
			units:     make(chan Unit, unitQueueDepth),
		}
		d.buffers[sessionID] = sb
		go d.drain(sessionID, sb.units)
	}

	sb.fragments = append(sb.fragments, frag)
	sb.bytes += len(frag.Data)

	if d.shouldFlushLocked(sb) {
		d.flushLocked(sessionID, sb)
	}
}

func (d *Dispatcher) shouldFlushLocked(sb *sessionBuffer) bool {
	if len(sb.fragments) == 0 {
		return false
	}
	return sb.bytes >= d.cfg.MaxChunkBytes ||
		d.now().Sub(sb.lastFlush) >= d.cfg.FlushInterval ||
		len(sb.fragments) >= d.cfg.MaxFragments
}

// flushLocked concatenates the buffer into one unit, clears the buffer state
// unconditionally, and queues the unit for the session's drain goroutine. The
// buffer is cleared before submission: a failed transcription must not
// re-queue stale audio.
func (d *Dispatcher) flushLocked(sessionID string, sb *sessionBuffer) {
	last := sb.fragments[len(sb.fragments)-1]
	data := make([]byte, 0, sb.bytes)
	for _, f := range sb.fragments {
		data = append(data, f.Data...)
	}
	unit := Unit{
		SessionID:   sessionID,
		Data:        data,
		Role:        last.Role,
		SpeakerName: last.SpeakerName,
		FlushedAt:   d.now(),
	}

	sb.fragments = nil
	sb.bytes = 0
	sb.lastFlush = unit.FlushedAt

	select {
	case sb.units <- unit:
	default:
		d.logger.Warn("audio unit queue full, dropping flush",
			"session_id", sessionID, "bytes", len(unit.Data))
	}
}

// drain submits queued units one at a time, preserving flush order and
// keeping at most one transcription in flight per session. The goroutine
// outlives any single connection, so sink calls run under a fresh context
// rather than whichever request context happened to buffer the first
// fragment; a participant dropping must not cancel later transcriptions.
func (d *Dispatcher) drain(sessionID string, units <-chan Unit) {
	ctx := context.Background()
	for unit := range units {
		d.sink(ctx, unit)
		d.countFlush(ctx)
	}
	d.logger.Debug("audio drain stopped", "session_id", sessionID)
}

// SweepOnce flushes every buffer that has been waiting at least one flush
// interval. Run calls it on a ticker; tests call it directly.
func (d *Dispatcher) SweepOnce() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	for id, sb := range d.buffers {
		if len(sb.fragments) > 0 && d.now().Sub(sb.lastFlush) >= d.cfg.FlushInterval {
			d.flushLocked(id, sb)
		}
	}
}

// Clear drops any buffered fragments for sessionID and stops its drain
// goroutine. Called on session cleanup.
func (d *Dispatcher) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sb, ok := d.buffers[sessionID]; ok {
		delete(d.buffers, sessionID)
		close(sb.units)
	}
}

// Run drives the periodic sweep until ctx is canceled, then closes every
// drain goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.FlushInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.SweepOnce()
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			for id, sb := range d.buffers {
				delete(d.buffers, id)
				close(sb.units)
			}
			d.mu.Unlock()
			return
		}
	}
}

func (d *Dispatcher) countFlush(ctx context.Context) {
	counter, err := d.meter.Int64Counter(
		"audio.flushes",
		metric.WithDescription("count of audio buffer flushes"),
	)
	if err != nil {
		return
	}
	counter.Add(ctx, 1)
}
