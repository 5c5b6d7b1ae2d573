package transcribe

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"TeleConsult/internal/session"
)

type stubProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Transcribe(ctx context.Context, audio []byte, role session.Role) (Segment, error) {
	p.calls++
	if p.err != nil {
		return Segment{}, p.err
	}
	return Segment{Text: p.text, Confidence: 0.8, Provider: p.name}, nil
}

func testGateway(primary string, providers ...Provider) *Gateway {
	logger := slog.New(slog.DiscardHandler)
	return NewGateway(primary, providers, NewMockProvider(), 30*time.Second, logger, noop.NewMeterProvider().Meter("test"))
}

func TestGatewayPrimarySuccessShortCircuits(t *testing.T) {
	p1 := &stubProvider{name: "openai", text: "hello"}
	p2 := &stubProvider{name: "deepgram", text: "other"}
	g := testGateway("openai", p1, p2)

	seg := g.Transcribe(context.Background(), []byte("audio"), session.RolePatient)
	if seg.Text != "hello" || seg.Provider != "openai" {
		t.Errorf("segment = %+v", seg)
	}
	if p2.calls != 0 {
		t.Errorf("secondary called %d times; want 0", p2.calls)
	}
}

func TestGatewayFallsThroughToSecondary(t *testing.T) {
	p1 := &stubProvider{name: "openai", err: ErrNotConfigured}
	p2 := &stubProvider{name: "deepgram", text: "from deepgram"}
	g := testGateway("openai", p1, p2)

	seg := g.Transcribe(context.Background(), []byte("audio"), session.RolePatient)
	if seg.Provider != "deepgram" {
		t.Errorf("provider = %q; want deepgram", seg.Provider)
	}
	if p1.calls != 1 || p2.calls != 1 {
		t.Errorf("calls = %d/%d; want 1/1", p1.calls, p2.calls)
	}
}

func TestGatewayRespectsPrimaryOrder(t *testing.T) {
	p1 := &stubProvider{name: "openai", err: ErrAuth}
	p2 := &stubProvider{name: "deepgram", text: "dg"}
	g := testGateway("deepgram", p1, p2)

	seg := g.Transcribe(context.Background(), []byte("audio"), session.RolePatient)
	if seg.Provider != "deepgram" {
		t.Errorf("provider = %q; want deepgram", seg.Provider)
	}
	if p1.calls != 0 {
		t.Errorf("non-primary called before primary succeeded")
	}
}

// The never-fails contract: every real provider failing still yields a
// well-formed segment from the deterministic substitute.
func TestGatewayNeverFails(t *testing.T) {
	p1 := &stubProvider{name: "openai", err: ErrTimeout}
	p2 := &stubProvider{name: "deepgram", err: ErrRateLimited}
	g := testGateway("openai", p1, p2)

	seg := g.Transcribe(context.Background(), []byte("audio"), session.RoleDoctor)
	if seg.Provider != "mock" {
		t.Errorf("provider = %q; want mock", seg.Provider)
	}
	if seg.Text == "" {
		t.Error("fallback segment has empty text")
	}
	if seg.Confidence <= 0 || seg.Confidence > 1 {
		t.Errorf("confidence = %v; want in (0,1]", seg.Confidence)
	}
}

func TestGatewaySetPrimary(t *testing.T) {
	p1 := &stubProvider{name: "openai", text: "a"}
	p2 := &stubProvider{name: "deepgram", text: "b"}
	g := testGateway("openai", p1, p2)

	if err := g.SetPrimary("deepgram"); err != nil {
		t.Fatalf("SetPrimary: %v", err)
	}
	if g.Primary() != "deepgram" {
		t.Errorf("primary = %q", g.Primary())
	}
	if err := g.SetPrimary("azure"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if err := g.SetPrimary("mock"); err != nil {
		t.Errorf("switching to mock should be allowed: %v", err)
	}
}

func TestGatewayStatus(t *testing.T) {
	p1 := &stubProvider{name: "openai"}
	p2 := &stubProvider{name: "deepgram"}
	g := testGateway("deepgram", p1, p2)

	status := g.Status()
	if len(status) != 3 {
		t.Fatalf("status entries = %d; want 3", len(status))
	}
	if status[0].Name != "deepgram" || !status[0].Primary {
		t.Errorf("first entry = %+v; want primary deepgram", status[0])
	}
	if status[len(status)-1].Name != "mock" {
		t.Errorf("last entry = %+v; want mock", status[len(status)-1])
	}
}

func TestMockProviderDeterministic(t *testing.T) {
	m := NewMockProvider()
	seen := make(map[string]bool)
	for i := 0; i < len(mockPatientPhrases)*2; i++ {
		seg, err := m.Transcribe(context.Background(), nil, session.RolePatient)
		if err != nil {
			t.Fatalf("mock failed: %v", err)
		}
		seen[seg.Text] = true
	}
	if len(seen) != len(mockPatientPhrases) {
		t.Errorf("distinct phrases = %d; want %d", len(seen), len(mockPatientPhrases))
	}

	seg, _ := m.Transcribe(context.Background(), nil, session.RoleDoctor)
	for _, p := range mockPatientPhrases {
		if seg.Text == p {
			t.Error("doctor segment drew from patient phrase set")
		}
	}
}
