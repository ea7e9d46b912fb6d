package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docbot/internal/domain"
)

// Failover tries generators in order, falling back to the next one only while
// nothing has reached the consumer. Once a token is out, a failure is final:
// replaying a different answer after a partial one would garble the stream.
type Failover struct {
	generators []domain.Generator
	logger     *slog.Logger
}

// NewFailover creates a failover chain from the given generators.
// At least one generator is required.
func NewFailover(generators []domain.Generator, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{generators: generators, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.generators))
	for i, g := range f.generators {
		names[i] = g.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Healthy reports whether any generator in the chain is usable. Generators
// that cannot be probed count as healthy.
func (f *Failover) Healthy(ctx context.Context) error {
	for _, g := range f.generators {
		hc, ok := g.(domain.HealthChecker)
		if !ok || hc.Healthy(ctx) == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy generator in failover chain")
}

func (f *Failover) Generate(ctx context.Context, req domain.GenerateRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	if len(f.generators) == 0 {
		return fmt.Errorf("failover chain is empty")
	}

	var lastErr error
	for i, g := range f.generators {
		started, err := f.attempt(ctx, g, req, out)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover succeeded", "generator", g.Name(), "attempt", i+1)
			}
			return emit(ctx, out, domain.StreamEvent{Type: domain.StreamDone})
		}
		if started || ctx.Err() != nil {
			return err
		}
		lastErr = err
		f.logger.Warn("generator failed before streaming, trying next",
			"generator", g.Name(), "attempt", i+1, "err", err)
	}
	return fmt.Errorf("all generators in failover chain failed: %w", lastErr)
}

// attempt runs one generator into a private channel and forwards its tokens.
// started reports whether any token was forwarded.
func (f *Failover) attempt(ctx context.Context, g domain.Generator, req domain.GenerateRequest, out chan<- domain.StreamEvent) (started bool, err error) {
	inner := make(chan domain.StreamEvent)
	errc := make(chan error, 1)
	go func() {
		errc <- g.Generate(ctx, req, inner)
	}()

	var sendErr error
	for ev := range inner {
		// Done is sent once by the chain itself.
		if sendErr != nil || ev.Type == domain.StreamDone {
			continue
		}
		if ev.Type == domain.StreamToken {
			started = true
		}
		sendErr = emit(ctx, out, ev)
	}
	genErr := <-errc
	if sendErr != nil {
		return started, sendErr
	}
	return started, genErr
}
