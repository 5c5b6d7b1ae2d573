package signaling

import (
	"encoding/json"
	"time"

	"TeleConsult/internal/session"
)

// Client -> server message kinds.
const (
	MsgJoinSession        = "join-session"
	MsgWebRTCOffer        = "webrtc-offer"
	MsgWebRTCAnswer       = "webrtc-answer"
	MsgWebRTCICECandidate = "webrtc-ice-candidate"
	MsgAudioStream        = "audio-stream"
	MsgStartRecording     = "start-recording"
	MsgStopRecording      = "stop-recording"
	MsgGenerateMER        = "generate-mer"
	MsgSendMessage        = "send-message"
)

// Server -> client event kinds.
const (
	EvtUserJoined         = "user-joined"
	EvtUserLeft           = "user-left"
	EvtSessionJoined      = "session-joined"
	EvtLiveTranscription  = "live-transcription"
	EvtRecordingStarted   = "recording-started"
	EvtRecordingStopped   = "recording-stopped"
	EvtChatMessage        = "chat-message"
	EvtMERGenerated       = "mer-generated"
	EvtMERGenerationError = "mer-generation-error"
	EvtTranscriptionError = "transcription-error"
	EvtError              = "error"
)

// ClientMessage is the flat inbound envelope. Only Type is always present;
// the rest are populated per kind.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserRole  string `json:"userRole,omitempty"`
	UserName  string `json:"userName,omitempty"`

	// WebRTC payloads, opaque to the relay.
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// audio-stream
	AudioData string `json:"audioData,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// generate-mer
	CustomInstructions string `json:"customInstructions,omitempty"`
	Variant            string `json:"variant,omitempty"`

	// send-message
	Message string `json:"message,omitempty"`
}

// OtherUser describes an already-present participant in session-joined.
type OtherUser struct {
	UserRole session.Role `json:"userRole"`
	UserName string       `json:"userName"`
}

type sessionJoinedEvent struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId"`
	UserRole   session.Role    `json:"userRole"`
	OtherUsers []OtherUser     `json:"otherUsers"`
	Session    session.Summary `json:"session"`
}

type userJoinedEvent struct {
	Type      string       `json:"type"`
	UserRole  session.Role `json:"userRole"`
	UserName  string       `json:"userName"`
	Timestamp time.Time    `json:"timestamp"`
}

type userLeftEvent struct {
	Type      string       `json:"type"`
	UserRole  session.Role `json:"userRole"`
	UserName  string       `json:"userName"`
	Timestamp time.Time    `json:"timestamp"`
}

// webrtcEvent is a relayed handshake message with the sender role attached.
type webrtcEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	From      session.Role    `json:"from"`
}

type liveTranscriptionEvent struct {
	Type        string       `json:"type"`
	ID          string       `json:"id"`
	Speaker     session.Role `json:"speaker"`
	SpeakerName string       `json:"speakerName"`
	Text        string       `json:"text"`
	Confidence  float64      `json:"confidence"`
	Timestamp   time.Time    `json:"timestamp"`
}

type recordingStartedEvent struct {
	Type      string    `json:"type"`
	StartedBy string    `json:"startedBy"`
	Timestamp time.Time `json:"timestamp"`
}

type recordingStoppedEvent struct {
	Type             string    `json:"type"`
	StoppedBy        string    `json:"stoppedBy"`
	TranscriptLength int       `json:"transcriptLength"`
	Timestamp        time.Time `json:"timestamp"`
}

type chatMessageEvent struct {
	Type      string       `json:"type"`
	UserRole  session.Role `json:"userRole"`
	UserName  string       `json:"userName"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

type merGeneratedEvent struct {
	Type      string                  `json:"type"`
	Document  *session.ClinicalRecord `json:"document"`
	Timestamp time.Time               `json:"timestamp"`
}

type merGenerationErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
