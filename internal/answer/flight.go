package answer

import (
	"context"
	"strings"
	"sync"

	"docbot/internal/domain"
)

// flight is one generation shared by every caller asking the same query
// while it runs. Tokens are kept so late joiners replay from the start; the
// buffer never exceeds the final answer.
type flight struct {
	mu      sync.Mutex
	tokens  []string
	done    bool
	err     error
	changed chan struct{} // closed and replaced on every update

	refs   int // guarded by Assembler.flightsMu
	cancel context.CancelFunc
}

func (f *flight) push(tok string) {
	f.mu.Lock()
	f.tokens = append(f.tokens, tok)
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

func (f *flight) finish(err error) {
	f.mu.Lock()
	f.done = true
	f.err = err
	close(f.changed)
	f.mu.Unlock()
}

// shared joins or starts the flight for key and relays its tokens to out.
// The generation is cancelled once every caller has left.
func (a *Assembler) shared(ctx context.Context, key string, req domain.GenerateRequest, out chan<- domain.StreamEvent) (generation, error) {
	f := a.join(ctx, key, req)
	defer a.leave(key, f)

	next := 0
	for {
		f.mu.Lock()
		pending := f.tokens[next:]
		done, err, changed := f.done, f.err, f.changed
		f.mu.Unlock()

		for _, tok := range pending {
			if sendErr := send(ctx, out, domain.StreamEvent{Type: domain.StreamToken, Content: tok}); sendErr != nil {
				return generation{}, sendErr
			}
			next++
		}
		if done {
			f.mu.Lock()
			text := strings.Join(f.tokens, "")
			f.mu.Unlock()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return generation{}, ctxErr
			}
			return generation{text: text, err: err}, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return generation{}, ctx.Err()
		}
	}
}

func (a *Assembler) join(ctx context.Context, key string, req domain.GenerateRequest) *flight {
	a.flightsMu.Lock()
	defer a.flightsMu.Unlock()
	if f, ok := a.flights[key]; ok {
		f.refs++
		return f
	}

	// Detached from the first caller so its departure does not end the
	// stream for the others.
	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{changed: make(chan struct{}), refs: 1, cancel: cancel}
	a.flights[key] = f
	go a.fly(genCtx, key, f, req)
	return f
}

func (a *Assembler) leave(key string, f *flight) {
	a.flightsMu.Lock()
	defer a.flightsMu.Unlock()
	f.refs--
	if f.refs == 0 {
		f.cancel()
		if a.flights[key] == f {
			delete(a.flights, key)
		}
	}
}

func (a *Assembler) fly(ctx context.Context, key string, f *flight, req domain.GenerateRequest) {
	events := make(chan domain.StreamEvent)
	errc := make(chan error, 1)
	go func() {
		errc <- a.generator.Generate(ctx, req, events)
	}()
	for ev := range events {
		if ev.Type == domain.StreamToken && ev.Content != "" {
			f.push(ev.Content)
		}
	}
	err := <-errc

	// Finished flights take no new joiners; later callers hit the cache or
	// start afresh.
	a.flightsMu.Lock()
	if a.flights[key] == f {
		delete(a.flights, key)
	}
	a.flightsMu.Unlock()

	f.finish(err)
}
