// Package meddoc turns an accumulated consultation transcript into a
// structured medical encounter record (MER) via prompt-templated calls to an
// LLM provider.
package meddoc

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"TeleConsult/internal/config"
	"TeleConsult/internal/session"
)

// Variant selects which document shape to generate.
type Variant string

const (
	VariantFull          Variant = "full"
	VariantSOAP          Variant = "soap"
	VariantCodes         Variant = "codes"
	VariantPrescriptions Variant = "prescriptions"
)

// ParseVariant maps a query/user string onto a Variant, defaulting to full.
func ParseVariant(s string) Variant {
	switch Variant(s) {
	case VariantSOAP, VariantCodes, VariantPrescriptions:
		return Variant(s)
	default:
		return VariantFull
	}
}

// Request carries one generation request.
type Request struct {
	SessionID          string
	Transcript         []session.TranscriptEntry
	DoctorName         string
	PatientName        string
	CustomInstructions string
	Variant            Variant
}

// CachedRecord is a cached generation result.
type CachedRecord struct {
	Record    *session.ClinicalRecord
	Timestamp time.Time
}

// Generator produces clinical records from transcripts. The configured
// backend is tried first, the other as fallback; unlike transcription there
// is no offline substitute, so generation can fail and the caller surfaces
// that as an event.
type Generator struct {
	backend      string
	anthropicKey string
	openaiKey    string
	anthropicURL string
	openaiURL    string
	httpClient   *http.Client
	logger       *slog.Logger
	tracer       trace.Tracer
	meter        metric.Meter
	cache        sync.Map
	now          func() time.Time
}

// NewGenerator creates a generator. now may be nil (time.Now).
func NewGenerator(cfg config.Config, httpClient *http.Client, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		backend:      cfg.DocBackend,
		anthropicKey: cfg.AnthropicKey,
		openaiKey:    cfg.OpenAIKey,
		anthropicURL: anthropicMessagesURL,
		openaiURL:    openaiChatURL,
		httpClient:   httpClient,
		logger:       logger,
		tracer:       tracer,
		meter:        meter,
		now:          now,
	}
}

// cacheKey generates a cache key from the transcript and request shape, so an
// identical re-request returns the stored document without a provider call.
func cacheKey(req Request) string {
	h := sha256.New()
	for _, e := range req.Transcript {
		h.Write([]byte(e.Speaker))
		h.Write([]byte(e.Text))
	}
	h.Write([]byte(req.Variant))
	h.Write([]byte(req.CustomInstructions))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Generate produces a clinical record for the request.
func (g *Generator) Generate(ctx context.Context, req Request) (*session.ClinicalRecord, error) {
	if len(req.Transcript) == 0 {
		return nil, fmt.Errorf("cannot generate a record from an empty transcript")
	}
	if req.Variant == "" {
		req.Variant = VariantFull
	}

	key := cacheKey(req)
	if val, ok := g.cache.Load(key); ok {
		cached := val.(CachedRecord)
		g.logger.Info("generation cache hit", "session_id", req.SessionID, "key", key[:16])
		return cached.Record, nil
	}

	system, user := buildPrompt(req)

	var (
		content string
		model   string
		err     error
	)
	switch g.backend {
	case config.DocBackendOpenAI:
		content, model, err = g.callOpenAI(ctx, system, user)
		if err != nil {
			g.logger.Warn("openai generation failed, trying anthropic", "error", err)
			content, model, err = g.callAnthropic(ctx, system, user)
		}
	default:
		content, model, err = g.callAnthropic(ctx, system, user)
		if err != nil {
			g.logger.Warn("anthropic generation failed, trying openai", "error", err)
			content, model, err = g.callOpenAI(ctx, system, user)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("document generation failed: %w", err)
	}

	rec := &session.ClinicalRecord{
		Content:     content,
		Variant:     string(req.Variant),
		Model:       model,
		GeneratedAt: g.now(),
	}

	g.cache.Store(key, CachedRecord{Record: rec, Timestamp: rec.GeneratedAt})
	g.logger.Info("clinical record generated",
		"session_id", req.SessionID, "variant", req.Variant, "model", model)
	return rec, nil
}

// recordUsage records OpenTelemetry metrics from provider usage data.
func (g *Generator) recordUsage(ctx context.Context, usage map[string]interface{}) {
	if usage == nil {
		return
	}

	for key, value := range usage {
		if intVal, ok := value.(float64); ok {
			counter, err := g.meter.Int64Counter(
				fmt.Sprintf("llm.usage.%s", key),
				metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
			)
			if err != nil {
				g.logger.Warn("failed to create counter", "key", key, "error", err)
				continue
			}
			counter.Add(ctx, int64(intVal))
		}
	}
}
