// Package transcribe converts buffered audio units into transcript segments.
// It wraps external speech-to-text providers behind one gateway with an
// ordered fallback chain that always produces a segment.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"TeleConsult/internal/session"
)

// Segment is the result of transcribing one audio unit.
type Segment struct {
	Text       string
	Confidence float64
	Provider   string
}

// Shared provider error taxonomy. Every adapter maps its provider-specific
// failures onto these before the gateway's fallback logic sees them.
var (
	ErrNotConfigured = errors.New("provider not configured")
	ErrAuth          = errors.New("provider authentication failed")
	ErrRateLimited   = errors.New("provider rate limited")
	ErrBadRequest    = errors.New("provider rejected request")
	ErrTimeout       = errors.New("provider call timed out")
	ErrProvider      = errors.New("provider call failed")
)

// classifyStatus maps an HTTP status code onto the shared taxonomy.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %d %s", ErrAuth, status, body)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %d %s", ErrRateLimited, status, body)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: %d %s", ErrBadRequest, status, body)
	default:
		return fmt.Errorf("%w: %d %s", ErrProvider, status, body)
	}
}

// classifyTransport maps transport-level call errors onto the taxonomy.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProvider, err)
}

// Provider transcribes one audio unit attributed to a speaker role.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, role session.Role) (Segment, error)
}
