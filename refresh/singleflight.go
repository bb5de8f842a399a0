package refresh

import (
	"context"
	"sync"
)

// Result is the credential pair produced by a refresh execution.
type Result struct {
	AccessToken  string
	RefreshToken string
}

// Func performs one actual refresh round trip.
type Func func(ctx context.Context) (Result, error)

type call struct {
	done   chan struct{}
	result Result
	err    error
}

// Group collapses concurrent refresh attempts for the same key into a single
// execution. Rotation invalidates the presented refresh token, so two
// in-flight refreshes for one session would guarantee that the loser's token
// is already spent; the group makes every concurrent caller share the
// winner's result instead.
//
// The zero value is ready to use.
type Group struct {
	mu       sync.Mutex
	inflight map[string]*call
}

// Do executes fn for key, or waits for an already in-flight execution of the
// same key and returns its result. Waiting callers honor ctx cancellation
// without cancelling the in-flight execution.
func (g *Group) Do(ctx context.Context, key string, fn Func) (Result, error) {
	g.mu.Lock()
	if g.inflight == nil {
		g.inflight = make(map[string]*call)
	}
	if existing, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		select {
		case <-existing.done:
			return existing.result, existing.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	g.inflight[key] = c
	g.mu.Unlock()

	c.result, c.err = fn(ctx)

	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
	close(c.done)

	return c.result, c.err
}

// Inflight reports whether a refresh for key is currently executing.
func (g *Group) Inflight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[key]
	return ok
}
