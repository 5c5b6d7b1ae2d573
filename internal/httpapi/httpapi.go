// Package httpapi is the thin REST boundary: session CRUD, transcription
// provider status, document generation variants and health. Every response
// uses the same envelope.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"TeleConsult/internal/meddoc"
	"TeleConsult/internal/session"
	"TeleConsult/internal/transcribe"
)

// Envelope is the uniform response shape.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// SessionEnder is the operator action exposed by the hub.
type SessionEnder interface {
	EndSession(id string) (*session.Session, bool)
}

// TranscriptionAdmin exposes the gateway's provider controls.
type TranscriptionAdmin interface {
	Primary() string
	SetPrimary(name string) error
	Status() []transcribe.ProviderStatus
}

// DocumentGenerator mirrors the generator capability consumed here.
type DocumentGenerator interface {
	Generate(ctx context.Context, req meddoc.Request) (*session.ClinicalRecord, error)
}

// Server holds the API dependencies and builds the route table.
type Server struct {
	registry  *session.Registry
	ender     SessionEnder
	admin     TranscriptionAdmin
	generator DocumentGenerator
	logger    *slog.Logger
}

// NewServer wires the REST boundary.
func NewServer(registry *session.Registry, ender SessionEnder, admin TranscriptionAdmin, generator DocumentGenerator, logger *slog.Logger) *Server {
	return &Server{
		registry:  registry,
		ender:     ender,
		admin:     admin,
		generator: generator,
		logger:    logger,
	}
}

// Register installs all routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/end", s.handleEndSession)
	mux.HandleFunc("GET /api/transcription/provider", s.handleProviderStatus)
	mux.HandleFunc("POST /api/transcription/provider", s.handleProviderSwitch)
	mux.HandleFunc("POST /api/documents/generate", s.handleGenerate)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func ok(w http.ResponseWriter, data interface{}, message string) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data, Message: message})
}

func fail(w http.ResponseWriter, status int, errMsg string) {
	writeJSON(w, status, Envelope{Success: false, Error: errMsg})
}

type createSessionRequest struct {
	SessionID   string `json:"sessionId"`
	DoctorName  string `json:"doctorName"`
	PatientName string `json:"patientName"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		fail(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	sess := s.registry.CreateOrGet(req.SessionID, req.DoctorName, req.PatientName)
	ok(w, sess.Summary(), "session ready")
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.ListAll()
	summaries := make([]session.Summary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, sess.Summary())
	}
	ok(w, summaries, "")
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, found := s.registry.Get(r.PathValue("id"))
	if !found {
		fail(w, http.StatusNotFound, "session not found")
		return
	}
	ok(w, sess.Summary(), "")
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, found := s.ender.EndSession(r.PathValue("id"))
	if !found {
		fail(w, http.StatusNotFound, "session not found")
		return
	}
	ok(w, sess.Summary(), "session ended")
}

func (s *Server) handleProviderStatus(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]interface{}{
		"primary":   s.admin.Primary(),
		"providers": s.admin.Status(),
	}, "")
}

type providerSwitchRequest struct {
	Provider string `json:"provider"`
}

func (s *Server) handleProviderSwitch(w http.ResponseWriter, r *http.Request) {
	var req providerSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.admin.SetPrimary(req.Provider); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	ok(w, map[string]string{"primary": req.Provider}, "provider switched")
}

type generateRequest struct {
	SessionID          string                    `json:"sessionId"`
	Transcript         []session.TranscriptEntry `json:"transcript,omitempty"`
	DoctorName         string                    `json:"doctorName"`
	PatientName        string                    `json:"patientName"`
	CustomInstructions string                    `json:"customInstructions,omitempty"`
}

// handleGenerate produces a document from either the stored session
// transcript (sessionId) or a transcript submitted inline. The variant query
// parameter selects full, soap, codes or prescriptions.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	transcript := req.Transcript
	doctorName, patientName := req.DoctorName, req.PatientName
	if len(transcript) == 0 && req.SessionID != "" {
		sess, found := s.registry.Get(req.SessionID)
		if !found {
			fail(w, http.StatusNotFound, "session not found")
			return
		}
		transcript = sess.TranscriptSnapshot()
		doctorName, patientName = sess.Names()
	}
	if len(transcript) == 0 {
		fail(w, http.StatusBadRequest, "a transcript or a sessionId with transcript entries is required")
		return
	}

	rec, err := s.generator.Generate(r.Context(), meddoc.Request{
		SessionID:          req.SessionID,
		Transcript:         transcript,
		DoctorName:         doctorName,
		PatientName:        patientName,
		CustomInstructions: req.CustomInstructions,
		Variant:            meddoc.ParseVariant(r.URL.Query().Get("variant")),
	})
	if err != nil {
		s.logger.Error("document generation failed", "error", err)
		fail(w, http.StatusBadGateway, "document generation failed")
		return
	}
	ok(w, rec, "document generated")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]string{"status": "healthy"}, "")
}
