// Package session holds the in-memory consultation state: sessions, the two
// participant slots, transcript entries and generated clinical records. All
// state is intentionally ephemeral; nothing here survives a process restart.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Role identifies which side of the consultation a participant is on.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// NormalizeRole maps arbitrary role strings onto a known Role. Unrecognized
// values coerce to the non-privileged patient role rather than being rejected;
// callers that care should log the coercion.
func NormalizeRole(s string) Role {
	if Role(s) == RoleDoctor {
		return RoleDoctor
	}
	return RolePatient
}

// Status is the lifecycle state of a session.
type Status int

const (
	StatusWaiting Status = iota
	StatusActive
	StatusEnded
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	default:
		return "waiting"
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "waiting":
		*s = StatusWaiting
	case "active":
		*s = StatusActive
	case "ended":
		*s = StatusEnded
	default:
		return fmt.Errorf("unknown session status %q", name)
	}
	return nil
}

// Sentinel errors returned by session operations. Lookup misses during
// disconnect races are expected and must be treated as no-ops by callers.
var (
	ErrNotFound         = errors.New("session not found")
	ErrForbidden        = errors.New("role not authorized for this command")
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
)

// Participant is one of the two slots of a session. ConnID is empty when the
// participant has no live connection.
type Participant struct {
	Name     string
	ConnID   string
	JoinedAt time.Time
}

// Connected reports whether the slot has a live connection attached.
func (p Participant) Connected() bool { return p.ConnID != "" }

// TranscriptEntry is one attributed, timestamped utterance. Immutable once
// appended to a session.
type TranscriptEntry struct {
	ID          string    `json:"id"`
	Speaker     Role      `json:"speaker"`
	SpeakerName string    `json:"speakerName"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// ClinicalRecord is the structured document produced from a transcript.
type ClinicalRecord struct {
	Content     string    `json:"content"`
	Variant     string    `json:"variant"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Session pairs one doctor and one patient under a shared identifier. All
// mutations go through methods that take the session's own lock, so two
// sessions never contend with each other.
type Session struct {
	mu sync.Mutex

	ID                 string
	Doctor             Participant
	Patient            Participant
	Status             Status
	Transcript         []TranscriptEntry
	IsRecording        bool
	RecordingStartedAt time.Time
	RecordingEndedAt   time.Time
	Record             *ClinicalRecord
	CreatedAt          time.Time
	LastActivity       time.Time
	EndedAt            time.Time
}

func (s *Session) slot(role Role) *Participant {
	if role == RoleDoctor {
		return &s.Doctor
	}
	return &s.Patient
}

// recomputeStatusLocked derives Status from the two slots. Ended is never
// derived here; only EndSession sets it, and any attach clears it.
func (s *Session) recomputeStatusLocked() {
	if s.Doctor.Connected() && s.Patient.Connected() {
		s.Status = StatusActive
	} else {
		s.Status = StatusWaiting
	}
}

// AttachConn binds a live connection to the slot for role, stamping the join
// time. Attaching to an ended session resurrects it.
func (s *Session) AttachConn(role Role, name, connID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.slot(role)
	p.ConnID = connID
	p.JoinedAt = at
	if name != "" {
		p.Name = name
	}
	s.recomputeStatusLocked()
	s.LastActivity = at
}

// DetachConn clears whichever slot currently references connID. It reports
// the role that was detached and whether anything changed. The display name
// and join timestamp are kept so a reconnecting participant is recognizable.
func (s *Session) DetachConn(connID string, at time.Time) (Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, role := range []Role{RoleDoctor, RolePatient} {
		p := s.slot(role)
		if p.ConnID == connID {
			p.ConnID = ""
			if s.Status != StatusEnded {
				s.recomputeStatusLocked()
			}
			s.LastActivity = at
			return role, true
		}
	}
	return "", false
}

// ConnFor returns the live connection id attached for role, if any.
func (s *Session) ConnFor(role Role) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.slot(role)
	return p.ConnID, p.Connected()
}

// PeerConn returns the connection id of the participant other than the one
// attached as connID. Used by the signaling relay.
func (s *Session) PeerConn(connID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch connID {
	case "":
		return "", false
	case s.Doctor.ConnID:
		return s.Patient.ConnID, s.Patient.Connected()
	case s.Patient.ConnID:
		return s.Doctor.ConnID, s.Doctor.Connected()
	}
	return "", false
}

// StartRecording transitions idle -> recording. Doctor only.
func (s *Session) StartRecording(role Role, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if role != RoleDoctor {
		return ErrForbidden
	}
	if s.IsRecording {
		return ErrAlreadyRecording
	}
	s.IsRecording = true
	s.RecordingStartedAt = at
	s.LastActivity = at
	return nil
}

// StopRecording transitions recording -> idle and returns the transcript
// length at stop time. Doctor only.
func (s *Session) StopRecording(role Role, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if role != RoleDoctor {
		return 0, ErrForbidden
	}
	if !s.IsRecording {
		return 0, ErrNotRecording
	}
	s.IsRecording = false
	s.RecordingEndedAt = at
	s.LastActivity = at
	return len(s.Transcript), nil
}

// Recording reports whether the session is actively capturing audio.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.IsRecording
}

// AppendEntry adds a transcript entry, clamping its timestamp so the
// transcript stays non-decreasing even if a late transcription lands with an
// earlier stamp.
func (s *Session) AppendEntry(e TranscriptEntry) TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.Transcript); n > 0 && e.Timestamp.Before(s.Transcript[n-1].Timestamp) {
		e.Timestamp = s.Transcript[n-1].Timestamp
	}
	s.Transcript = append(s.Transcript, e)
	s.LastActivity = e.Timestamp
	return e
}

// TranscriptSnapshot returns a copy of the transcript safe to hand across an
// await boundary.
func (s *Session) TranscriptSnapshot() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptEntry, len(s.Transcript))
	copy(out, s.Transcript)
	return out
}

// SetRecord stores a generated clinical record on the session.
func (s *Session) SetRecord(rec *ClinicalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Record = rec
	if rec != nil && rec.GeneratedAt.After(s.LastActivity) {
		s.LastActivity = rec.GeneratedAt
	}
}

// GetRecord returns the stored clinical record, if any.
func (s *Session) GetRecord() (*ClinicalRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Record, s.Record != nil
}

// Names returns the current display names of both slots.
func (s *Session) Names() (doctor, patient string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Doctor.Name, s.Patient.Name
}

// end clears both connection references and marks the session ended.
func (s *Session) end(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Doctor.ConnID = ""
	s.Patient.ConnID = ""
	s.IsRecording = false
	s.Status = StatusEnded
	s.EndedAt = at
	s.LastActivity = at
}

// sweepable reports whether the session may be garbage collected given the
// inactivity cutoff. Sessions with a live connection are never sweepable.
func (s *Session) sweepable(cutoff time.Time, evictIdle bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.LastActivity.After(cutoff) {
		return false
	}
	if s.Status == StatusEnded {
		return true
	}
	return evictIdle && !s.Doctor.Connected() && !s.Patient.Connected()
}

// ParticipantView is the JSON shape of one slot in summaries.
type ParticipantView struct {
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	JoinedAt  time.Time `json:"joinedAt,omitzero"`
}

// Summary is the read-only projection of a session used by the HTTP API and
// the session-joined event.
type Summary struct {
	ID               string          `json:"sessionId"`
	Status           Status          `json:"status"`
	Doctor           ParticipantView `json:"doctor"`
	Patient          ParticipantView `json:"patient"`
	IsRecording      bool            `json:"isRecording"`
	TranscriptLength int             `json:"transcriptLength"`
	HasRecord        bool            `json:"hasRecord"`
	CreatedAt        time.Time       `json:"createdAt"`
	LastActivity     time.Time       `json:"lastActivity"`
}

// Summary returns a consistent snapshot projection of the session.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Summary{
		ID:     s.ID,
		Status: s.Status,
		Doctor: ParticipantView{
			Name:      s.Doctor.Name,
			Connected: s.Doctor.Connected(),
			JoinedAt:  s.Doctor.JoinedAt,
		},
		Patient: ParticipantView{
			Name:      s.Patient.Name,
			Connected: s.Patient.Connected(),
			JoinedAt:  s.Patient.JoinedAt,
		},
		IsRecording:      s.IsRecording,
		TranscriptLength: len(s.Transcript),
		HasRecord:        s.Record != nil,
		CreatedAt:        s.CreatedAt,
		LastActivity:     s.LastActivity,
	}
}
