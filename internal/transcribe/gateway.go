package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"TeleConsult/internal/session"
)

// Gateway fronts the ordered provider chain: the configured primary first,
// then the remaining real provider, then the deterministic mock. Transcribe
// never returns an error; upstream callers are written assuming transcription
// cannot fail terminally, and that contract is deliberate.
type Gateway struct {
	logger  *slog.Logger
	meter   metric.Meter
	timeout time.Duration

	mu        sync.RWMutex
	primary   string
	providers map[string]Provider
	order     []string
	mock      Provider
}

// NewGateway builds a gateway over the given real providers. primary selects
// which is tried first; the rest follow in registration order.
func NewGateway(primary string, providers []Provider, mock Provider, timeout time.Duration, logger *slog.Logger, meter metric.Meter) *Gateway {
	g := &Gateway{
		logger:    logger,
		meter:     meter,
		timeout:   timeout,
		primary:   primary,
		providers: make(map[string]Provider, len(providers)),
		mock:      mock,
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
		g.order = append(g.order, p.Name())
	}
	return g
}

// Primary returns the currently preferred provider name.
func (g *Gateway) Primary() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.primary
}

// SetPrimary switches the preferred provider at runtime.
func (g *Gateway) SetPrimary(name string) error {
	g.mu.RLock()
	_, ok := g.providers[name]
	g.mu.RUnlock()
	if !ok && name != g.mock.Name() {
		return fmt.Errorf("unknown transcription provider: %s", name)
	}
	g.mu.Lock()
	g.primary = name
	g.mu.Unlock()
	g.logger.Info("transcription provider switched", "provider", name)
	return nil
}

// ProviderStatus describes one provider for the status endpoint.
type ProviderStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Primary    bool   `json:"primary"`
}

// Status lists every provider in chain order, mock last.
func (g *Gateway) Status() []ProviderStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	configured := func(p Provider) bool {
		type confer interface{ Configured() bool }
		if c, ok := p.(confer); ok {
			return c.Configured()
		}
		return true
	}

	out := make([]ProviderStatus, 0, len(g.order)+1)
	for _, name := range g.chainLocked() {
		var p Provider
		if name == g.mock.Name() {
			p = g.mock
		} else {
			p = g.providers[name]
		}
		out = append(out, ProviderStatus{
			Name:       name,
			Configured: configured(p),
			Primary:    name == g.primary,
		})
	}
	return out
}

// chainLocked returns provider names in try order, ending with the mock.
func (g *Gateway) chainLocked() []string {
	chain := make([]string, 0, len(g.order)+1)
	if g.primary != g.mock.Name() {
		chain = append(chain, g.primary)
	}
	for _, name := range g.order {
		if name != g.primary {
			chain = append(chain, name)
		}
	}
	return append(chain, g.mock.Name())
}

// Transcribe runs the provider chain and always returns a segment. A provider
// that is not configured fails immediately and the chain moves on; if every
// real provider fails the mock manufactures a segment.
func (g *Gateway) Transcribe(ctx context.Context, audio []byte, role session.Role) Segment {
	g.mu.RLock()
	chain := g.chainLocked()
	g.mu.RUnlock()

	for _, name := range chain {
		var p Provider
		if name == g.mock.Name() {
			p = g.mock
		} else {
			p = g.providers[name]
			if p == nil {
				continue
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		seg, err := p.Transcribe(callCtx, audio, role)
		cancel()
		if err == nil {
			g.count(ctx, "transcription.segments", name)
			return seg
		}
		g.logger.Warn("transcription provider failed, falling through",
			"provider", name, "error", err)
		g.count(ctx, "transcription.fallbacks", name)
	}

	// Unreachable: the mock terminates the chain and cannot fail. Kept so a
	// misconfigured chain still honors the never-fails contract.
	seg, _ := g.mock.Transcribe(ctx, audio, role)
	return seg
}

func (g *Gateway) count(ctx context.Context, name, provider string) {
	counter, err := g.meter.Int64Counter(
		name,
		metric.WithDescription(fmt.Sprintf("count of %s by provider", name)),
	)
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
