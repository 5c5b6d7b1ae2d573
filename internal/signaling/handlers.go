package signaling

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"TeleConsult/internal/audio"
	"TeleConsult/internal/meddoc"
	"TeleConsult/internal/session"
)

// handleMessage routes one inbound frame. Malformed payloads are answered
// with an error event on the offending connection; nothing propagates.
func (h *Hub) handleMessage(ctx context.Context, c *Conn, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid message format")
		return
	}

	switch msg.Type {
	case MsgJoinSession:
		h.handleJoin(c, msg)
	case MsgWebRTCOffer, MsgWebRTCAnswer, MsgWebRTCICECandidate:
		h.handleSignal(ctx, c, msg)
	case MsgAudioStream:
		h.handleAudio(c, msg)
	case MsgStartRecording:
		h.handleStartRecording(c, msg)
	case MsgStopRecording:
		h.handleStopRecording(c, msg)
	case MsgGenerateMER:
		h.handleGenerateMER(c, msg)
	case MsgSendMessage:
		h.handleChat(c, msg)
	default:
		h.sendError(c, "unknown message type: "+msg.Type)
	}
}

// handleJoin attaches the connection to a session, creating (or resurrecting)
// the session on first reference. The joiner gets session-joined; an already
// present peer gets user-joined.
func (h *Hub) handleJoin(c *Conn, msg ClientMessage) {
	if msg.SessionID == "" || msg.UserName == "" {
		h.sendError(c, "join-session requires sessionId and userName")
		return
	}

	role := session.NormalizeRole(msg.UserRole)

	var doctorName, patientName string
	if role == session.RoleDoctor {
		doctorName = msg.UserName
	} else {
		patientName = msg.UserName
	}
	h.registry.CreateOrGet(msg.SessionID, doctorName, patientName)

	s, ok := h.registry.AttachParticipant(msg.SessionID, msg.UserRole, msg.UserName, c.id)
	if !ok {
		// CreateOrGet just made it; only an interleaved sweep can get here.
		h.sendError(c, "session not found")
		return
	}
	h.tracker.Attach(c.id, msg.SessionID, role)

	var others []OtherUser
	doctorName, patientName = s.Names()
	for _, other := range []session.Role{session.RoleDoctor, session.RolePatient} {
		if other == role {
			continue
		}
		if connID, live := s.ConnFor(other); live && connID != c.id {
			name := patientName
			if other == session.RoleDoctor {
				name = doctorName
			}
			others = append(others, OtherUser{UserRole: other, UserName: name})
			h.sendTo(connID, userJoinedEvent{
				Type:      EvtUserJoined,
				UserRole:  role,
				UserName:  msg.UserName,
				Timestamp: h.now(),
			})
		}
	}
	if others == nil {
		others = []OtherUser{}
	}

	c.enqueue(sessionJoinedEvent{
		Type:       EvtSessionJoined,
		SessionID:  msg.SessionID,
		UserRole:   role,
		OtherUsers: others,
		Session:    s.Summary(),
	})

	h.logger.Info("client joined session",
		"conn_id", c.id, "session_id", msg.SessionID, "role", role, "name", msg.UserName)
}

// handleSignal relays one WebRTC handshake message to the other participant.
// The relay is a dumb pipe: payloads are opaque, nothing is queued, and a
// missing peer means a silent drop. Which side offers first is a convention
// between the peers (the doctor initiates here); the relay does not enforce
// it.
func (h *Hub) handleSignal(ctx context.Context, c *Conn, msg ClientMessage) {
	att, ok := h.tracker.SessionOf(c.id)
	if !ok {
		h.sendError(c, "not attached to a session")
		return
	}

	s, ok := h.registry.Get(att.SessionID)
	if !ok {
		return
	}

	peer, ok := s.PeerConn(c.id)
	if !ok {
		h.countSignal(ctx, msg.Type, "dropped")
		h.logger.Debug("no peer attached, dropping signal",
			"session_id", att.SessionID, "kind", msg.Type)
		return
	}

	h.sendTo(peer, webrtcEvent{
		Type:      msg.Type,
		SessionID: att.SessionID,
		Offer:     msg.Offer,
		Answer:    msg.Answer,
		Candidate: msg.Candidate,
		From:      att.Role,
	})
	h.countSignal(ctx, msg.Type, "relayed")
}

// handleAudio decodes one base64 audio fragment and hands it to the
// dispatcher. Fragments for sessions that are not recording are dropped
// before they ever reach a buffer.
func (h *Hub) handleAudio(c *Conn, msg ClientMessage) {
	if msg.AudioData == "" {
		h.sendError(c, "audio-stream requires audioData")
		return
	}

	att, ok := h.tracker.SessionOf(c.id)
	if !ok {
		h.sendError(c, "not attached to a session")
		return
	}

	s, ok := h.registry.Get(att.SessionID)
	if !ok || !s.Recording() {
		return
	}

	data, err := base64.StdEncoding.DecodeString(msg.AudioData)
	if err != nil {
		h.sendError(c, "audioData is not valid base64")
		return
	}

	h.dispatcher.Add(att.SessionID, audio.Fragment{
		Data:        data,
		Role:        att.Role,
		SpeakerName: msg.UserName,
		ReceivedAt:  h.now(),
	})
}

func (h *Hub) handleStartRecording(c *Conn, msg ClientMessage) {
	att, s, ok := h.attachedSession(c)
	if !ok {
		return
	}

	if err := s.StartRecording(att.Role, h.now()); err != nil {
		h.sendRecordingError(c, err)
		return
	}

	h.broadcast(s, recordingStartedEvent{
		Type:      EvtRecordingStarted,
		StartedBy: msg.UserName,
		Timestamp: h.now(),
	})
	h.logger.Info("recording started", "session_id", att.SessionID)
}

// handleStopRecording stops the recording, broadcasts the stop with the
// transcript length, and kicks off document generation as a detached task.
// Stopping never blocks on LLM latency.
func (h *Hub) handleStopRecording(c *Conn, msg ClientMessage) {
	att, s, ok := h.attachedSession(c)
	if !ok {
		return
	}

	n, err := s.StopRecording(att.Role, h.now())
	if err != nil {
		h.sendRecordingError(c, err)
		return
	}

	h.broadcast(s, recordingStoppedEvent{
		Type:             EvtRecordingStopped,
		StoppedBy:        msg.UserName,
		TranscriptLength: n,
		Timestamp:        h.now(),
	})
	h.logger.Info("recording stopped", "session_id", att.SessionID, "transcript_length", n)

	if n > 0 {
		go h.generateRecord(att.SessionID, c.id, "", meddoc.VariantFull)
	}
}

// handleGenerateMER regenerates the clinical record on explicit request. Any
// participant may ask; the result still goes to the doctor connection only.
func (h *Hub) handleGenerateMER(c *Conn, msg ClientMessage) {
	att, ok := h.tracker.SessionOf(c.id)
	if !ok {
		h.sendError(c, "not attached to a session")
		return
	}
	go h.generateRecord(att.SessionID, c.id, msg.CustomInstructions, meddoc.ParseVariant(msg.Variant))
}

func (h *Hub) handleChat(c *Conn, msg ClientMessage) {
	if msg.Message == "" {
		h.sendError(c, "send-message requires message")
		return
	}
	att, s, ok := h.attachedSession(c)
	if !ok {
		return
	}

	h.broadcast(s, chatMessageEvent{
		Type:      EvtChatMessage,
		UserRole:  att.Role,
		UserName:  msg.UserName,
		Message:   msg.Message,
		Timestamp: h.now(),
	})
}

// generateRecord is the detached document-generation task. Errors go to the
// requesting connection as an event; the finished record is stored on the
// session and delivered only to whichever connection is attached as doctor
// at delivery time. Patient connections never receive the document.
func (h *Hub) generateRecord(sessionID, requesterConnID, instructions string, variant meddoc.Variant) {
	s, ok := h.registry.Get(sessionID)
	if !ok {
		return
	}

	doctorName, patientName := s.Names()
	rec, err := h.generator.Generate(context.Background(), meddoc.Request{
		SessionID:          sessionID,
		Transcript:         s.TranscriptSnapshot(),
		DoctorName:         doctorName,
		PatientName:        patientName,
		CustomInstructions: instructions,
		Variant:            variant,
	})
	if err != nil {
		h.logger.Error("document generation failed", "session_id", sessionID, "error", err)
		h.sendTo(requesterConnID, merGenerationErrorEvent{
			Type:    EvtMERGenerationError,
			Message: "document generation failed, please retry",
		})
		return
	}

	// Re-fetch: the session may have been ended or swept during the call.
	s, ok = h.registry.Get(sessionID)
	if !ok {
		return
	}
	s.SetRecord(rec)

	if doctorConn, live := s.ConnFor(session.RoleDoctor); live {
		h.sendTo(doctorConn, merGeneratedEvent{
			Type:      EvtMERGenerated,
			Document:  rec,
			Timestamp: h.now(),
		})
	}
	h.logger.Info("clinical record delivered", "session_id", sessionID, "variant", variant)
}

// attachedSession resolves the caller's session, answering with an error
// event when the connection is not attached or the session is gone.
func (h *Hub) attachedSession(c *Conn) (session.Attachment, *session.Session, bool) {
	att, ok := h.tracker.SessionOf(c.id)
	if !ok {
		h.sendError(c, "not attached to a session")
		return session.Attachment{}, nil, false
	}
	s, ok := h.registry.Get(att.SessionID)
	if !ok {
		h.sendError(c, "session not found")
		return session.Attachment{}, nil, false
	}
	return att, s, true
}

func (h *Hub) sendRecordingError(c *Conn, err error) {
	switch {
	case errors.Is(err, session.ErrForbidden):
		h.sendError(c, "only the doctor can control recording")
	case errors.Is(err, session.ErrAlreadyRecording):
		h.sendError(c, "recording already in progress")
	case errors.Is(err, session.ErrNotRecording):
		h.sendError(c, "no recording in progress")
	default:
		h.sendError(c, err.Error())
	}
}

func (h *Hub) countSignal(ctx context.Context, kind, outcome string) {
	counter, err := h.meter.Int64Counter(
		"signaling.messages",
		metric.WithDescription("WebRTC signaling messages by kind and outcome"),
	)
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
