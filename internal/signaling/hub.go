// Package signaling is the realtime core: it accepts websocket connections,
// routes join/leave, relays WebRTC handshake messages between the two
// participants of a session, gates the audio pipeline on recording state and
// broadcasts transcript and document events.
package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"TeleConsult/internal/audio"
	"TeleConsult/internal/meddoc"
	"TeleConsult/internal/session"
	"TeleConsult/internal/transcribe"
)

// Transcriber is the capability the hub needs from the transcription gateway.
// It cannot fail; the gateway guarantees a segment.
type Transcriber interface {
	Transcribe(ctx context.Context, audioData []byte, role session.Role) transcribe.Segment
}

// DocumentGenerator is the capability the hub needs from the clinical record
// generator. Generation can fail; failures surface as events.
type DocumentGenerator interface {
	Generate(ctx context.Context, req meddoc.Request) (*session.ClinicalRecord, error)
}

// Hub owns all live connections and wires every inbound message to the
// registry, tracker, relay, audio dispatcher and generator. Handler failures
// are isolated to their connection; nothing here panics the process or
// disturbs other sessions.
type Hub struct {
	registry    *session.Registry
	tracker     *session.ConnTracker
	transcriber Transcriber
	generator   DocumentGenerator
	dispatcher  *audio.Dispatcher
	logger      *slog.Logger
	tracer      trace.Tracer
	meter       metric.Meter
	upgrader    websocket.Upgrader
	now         func() time.Time

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub wires the hub. now may be nil (time.Now); tests inject a fake clock.
func NewHub(
	registry *session.Registry,
	tracker *session.ConnTracker,
	transcriber Transcriber,
	generator DocumentGenerator,
	audioCfg audio.Config,
	logger *slog.Logger,
	tracer trace.Tracer,
	meter metric.Meter,
	now func() time.Time,
) *Hub {
	if now == nil {
		now = time.Now
	}
	h := &Hub{
		registry:    registry,
		tracker:     tracker,
		transcriber: transcriber,
		generator:   generator,
		logger:      logger,
		tracer:      tracer,
		meter:       meter,
		now:         now,
		conns:       make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Session ids are shared meeting codes and there is no auth
			// layer in front of this; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	h.dispatcher = audio.NewDispatcher(audioCfg, h.transcribeUnit, logger, meter, now)
	return h
}

// Dispatcher exposes the audio dispatcher for lifecycle wiring.
func (h *Hub) Dispatcher() *audio.Dispatcher { return h.dispatcher }

// Run drives the dispatcher sweep until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	h.dispatcher.Run(ctx)
}

// ServeHTTP upgrades the request to a websocket and runs the connection's
// read loop until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newConn("conn_"+uuid.New().String(), ws, h.logger)

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	h.logger.Info("client connected", "conn_id", c.id, "remote", r.RemoteAddr)

	go c.writePump()

	ctx := r.Context()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		h.handleMessage(ctx, c, data)
	}

	h.disconnect(c)
}

// disconnect tears down one connection: tracker and registry detach, peer
// notification, conn removal. Absences are expected during races and are
// treated as no-ops.
func (h *Hub) disconnect(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	att, tracked := h.tracker.Detach(c.id)
	if tracked {
		if sessionID, s, ok := h.registry.DetachByConnection(c.id); ok {
			doctorName, patientName := s.Names()
			name := patientName
			if att.Role == session.RoleDoctor {
				name = doctorName
			}
			h.broadcast(s, userLeftEvent{
				Type:      EvtUserLeft,
				UserRole:  att.Role,
				UserName:  name,
				Timestamp: h.now(),
			})
			h.logger.Info("client left session",
				"conn_id", c.id, "session_id", sessionID, "role", att.Role)
		}
	}

	c.close()
	h.logger.Info("client disconnected", "conn_id", c.id)
}

// sendTo queues an event for a single connection, if it is still live.
func (h *Hub) sendTo(connID string, v interface{}) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	c.enqueue(v)
	return true
}

// broadcast queues an event for both participants of a session that have a
// live connection.
func (h *Hub) broadcast(s *session.Session, v interface{}) {
	for _, role := range []session.Role{session.RoleDoctor, session.RolePatient} {
		if connID, ok := s.ConnFor(role); ok {
			h.sendTo(connID, v)
		}
	}
}

// sendError reports a per-command failure to the offending connection only.
func (h *Hub) sendError(c *Conn, msg string) {
	c.enqueue(errorEvent{Type: EvtError, Message: msg})
}

// EndSession is the operator action that terminally closes a session: both
// slots cleared, status ended, buffered audio discarded. Live websockets are
// left open; they are simply no longer attached to anything.
func (h *Hub) EndSession(id string) (*session.Session, bool) {
	s, ok := h.registry.Get(id)
	if !ok {
		return nil, false
	}
	for _, role := range []session.Role{session.RoleDoctor, session.RolePatient} {
		if connID, ok := s.ConnFor(role); ok {
			h.tracker.Detach(connID)
		}
	}
	h.dispatcher.Clear(id)
	return h.registry.EndSession(id)
}

// Close tears down every live connection. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// transcribeUnit is the audio dispatcher's sink: transcribe the flushed unit,
// append the segment to the session transcript and broadcast it. The session
// is re-fetched after the provider round trip; a result for a session that
// was ended and swept in the meantime is discarded.
func (h *Hub) transcribeUnit(ctx context.Context, unit audio.Unit) {
	ctx, span := h.tracer.Start(ctx, "transcribe_unit")
	defer span.End()

	seg := h.transcriber.Transcribe(ctx, unit.Data, unit.Role)

	s, ok := h.registry.Get(unit.SessionID)
	if !ok {
		h.logger.Debug("discarding transcription for vanished session",
			"session_id", unit.SessionID)
		return
	}

	entry := s.AppendEntry(session.TranscriptEntry{
		ID:          uuid.New().String(),
		Speaker:     unit.Role,
		SpeakerName: unit.SpeakerName,
		Text:        seg.Text,
		Confidence:  seg.Confidence,
		Timestamp:   h.now(),
	})

	h.broadcast(s, liveTranscriptionEvent{
		Type:        EvtLiveTranscription,
		ID:          entry.ID,
		Speaker:     entry.Speaker,
		SpeakerName: entry.SpeakerName,
		Text:        entry.Text,
		Confidence:  entry.Confidence,
		Timestamp:   entry.Timestamp,
	})
}
