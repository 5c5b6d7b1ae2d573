package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"TeleConsult/internal/session"
)

const deepgramListenURL = "https://api.deepgram.com/v1/listen?model=nova-2&smart_format=true"

// DeepgramResponse represents the response from the Deepgram listen API.
type DeepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// DeepgramProvider transcribes audio via the Deepgram prerecorded API.
type DeepgramProvider struct {
	apiKey     string
	url        string
	httpClient *http.Client
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewDeepgramProvider creates a Deepgram-backed provider. An empty apiKey is
// allowed; calls will fail with ErrNotConfigured so the gateway falls through.
func NewDeepgramProvider(apiKey string, httpClient *http.Client, tracer trace.Tracer, meter metric.Meter) *DeepgramProvider {
	return &DeepgramProvider{
		apiKey:     apiKey,
		url:        deepgramListenURL,
		httpClient: httpClient,
		tracer:     tracer,
		meter:      meter,
	}
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string { return "deepgram" }

// Configured reports whether an API key is present.
func (p *DeepgramProvider) Configured() bool { return p.apiKey != "" }

// Transcribe sends the audio unit to the Deepgram listen API.
func (p *DeepgramProvider) Transcribe(ctx context.Context, audio []byte, role session.Role) (Segment, error) {
	ctx, span := p.tracer.Start(ctx, "deepgram_transcription_call")
	defer span.End()

	start := time.Now()

	if p.apiKey == "" {
		return Segment{}, fmt.Errorf("%w: DEEPGRAM_API_KEY not set", ErrNotConfigured)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.url, bytes.NewReader(audio))
	if err != nil {
		return Segment{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/webm")

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

	var apiResp DeepgramResponse
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

	channels := apiResp.Results.Channels
	if len(channels) == 0 || len(channels[0].Alternatives) == 0 {
		return Segment{}, fmt.Errorf("%w: empty response from Deepgram", ErrProvider)
	}

	alt := channels[0].Alternatives[0]
	return Segment{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Provider:   p.Name(),
	}, nil
}
