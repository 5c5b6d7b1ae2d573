package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"TeleConsult/internal/session"
)

const openaiTranscriptionURL = "https://api.openai.com/v1/audio/transcriptions"

// Whisper does not report per-utterance confidence; segments it returns are
// attributed this fixed score.
const openaiDefaultConfidence = 0.92

// OpenAIResponse represents the response from the OpenAI transcription API.
type OpenAIResponse struct {
	Text string `json:"text"`
}

// OpenAIProvider transcribes audio via the OpenAI Whisper API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewOpenAIProvider creates a Whisper-backed provider. An empty apiKey is
// allowed; calls will fail with ErrNotConfigured so the gateway falls through.
func NewOpenAIProvider(apiKey string, httpClient *http.Client, tracer trace.Tracer, meter metric.Meter) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      "whisper-1",
		url:        openaiTranscriptionURL,
		httpClient: httpClient,
		tracer:     tracer,
		meter:      meter,
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// Configured reports whether an API key is present.
func (p *OpenAIProvider) Configured() bool { return p.apiKey != "" }

// Transcribe sends the audio unit to the Whisper API.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, role session.Role) (Segment, error) {
	ctx, span := p.tracer.Start(ctx, "openai_transcription_call")
	defer span.End()

	start := time.Now()

	if p.apiKey == "" {
		return Segment{}, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrNotConfigured)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.webm")
	if err != nil {
		return Segment{}, fmt.Errorf("failed to build form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Segment{}, fmt.Errorf("failed to write audio part: %w", err)
	}
	if err := writer.WriteField("model", p.model); err != nil {
		return Segment{}, fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Segment{}, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.url, &buf)
	if err != nil {
		return Segment{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Segment{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Segment{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Segment{}, classifyStatus(resp.StatusCode, body)
	}

	var apiResp OpenAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return Segment{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	duration := time.Since(start)
	histogram, err := p.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(duration.Milliseconds()))
	}

	return Segment{
		Text:       apiResp.Text,
		Confidence: openaiDefaultConfidence,
		Provider:   p.Name(),
	}, nil
}
