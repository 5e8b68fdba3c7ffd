// Package fallback is the in-memory stand-in the resilience layer switches to
// while the primary store is unreachable. It serves the same contracts as the
// Postgres store but keeps nothing across restarts.
package fallback

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/workflow"
)

type txKey struct{}

type txState struct {
	owner *Store
	state *state
}

// Store is safe for concurrent use. Transactions hold the write lock, work on
// a copy of the state and swap it in only when the callback succeeds.
type Store struct {
	mu     sync.RWMutex
	state  *state
	logger ectologger.Logger
}

func NewStore(logger ectologger.Logger) *Store {
	return &Store{
		state:  newState(),
		logger: logger,
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := s.tx(ctx); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, &txState{owner: s, state: working})); err != nil {
		return err
	}
	s.state = working
	return nil
}

// Reset drops all data.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = newState()
}

func (s *Store) tx(ctx context.Context) (*txState, bool) {
	ts, ok := ctx.Value(txKey{}).(*txState)
	if !ok || ts.owner != s {
		return nil, false
	}
	return ts, true
}

func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if ts, ok := s.tx(ctx); ok {
		return fn(ts.state)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// write applies fn atomically: outside a transaction it gets its own copy.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if ts, ok := s.tx(ctx); ok {
		return fn(ts.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(working); err != nil {
		return err
	}
	s.state = working
	return nil
}

var _ workflow.Store = (*Store)(nil)
