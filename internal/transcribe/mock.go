package transcribe

import (
	"context"
	"sync/atomic"

	"TeleConsult/internal/session"
)

// Fixed phrase sets the mock rotates through, per speaker role. Keeps the
// transcription pipeline alive during demos and provider outages.
var (
	mockDoctorPhrases = []string{
		"Can you describe when the symptoms started?",
		"I am going to listen to your breathing now.",
		"Your blood pressure readings look stable.",
		"Let us review the medication you are currently taking.",
		"I recommend a follow-up appointment in two weeks.",
	}
	mockPatientPhrases = []string{
		"The pain started about three days ago.",
		"I have been feeling tired most afternoons.",
		"Yes, I have been taking the medication every morning.",
		"The cough is worse at night.",
		"I have not had a fever, just some chills.",
	}
)

const mockConfidence = 0.5

// MockProvider manufactures deterministic transcript segments from a fixed
// phrase set. It never fails, which is what makes the gateway's
// fallback-never-fails contract possible.
type MockProvider struct {
	counter atomic.Uint64
}

// NewMockProvider creates the deterministic offline substitute.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// Name returns the provider identifier.
func (p *MockProvider) Name() string { return "mock" }

// Configured always reports true; the mock needs no credentials.
func (p *MockProvider) Configured() bool { return true }

// Transcribe returns the next phrase for the speaker role. Cannot fail.
func (p *MockProvider) Transcribe(ctx context.Context, audio []byte, role session.Role) (Segment, error) {
	phrases := mockPatientPhrases
	if role == session.RoleDoctor {
		phrases = mockDoctorPhrases
	}
	n := p.counter.Add(1) - 1
	return Segment{
		Text:       phrases[n%uint64(len(phrases))],
		Confidence: mockConfidence,
		Provider:   p.Name(),
	}, nil
}
