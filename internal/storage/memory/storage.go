package memory

import (
	"context"
	"sync"

	"github.com/Seednode/teamshuffle/internal/roster"
	"github.com/Seednode/teamshuffle/internal/storage"
)

// Storage keeps the roster in process memory.
type Storage struct {
	mu  sync.Mutex
	reg *roster.Registry
}

// Ensure Storage implements the interface
var _ storage.Store = (*Storage)(nil)

// New creates an empty in-memory store
func New(opts ...roster.Option) *Storage {
	return &Storage{reg: roster.NewRegistry(opts...)}
}

func (s *Storage) Load(_ context.Context) (roster.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reg.Snapshot(), nil
}

// Update applies fn to a copy of the registry and swaps it in on success.
func (s *Storage) Update(_ context.Context, fn func(*roster.Registry) error) (roster.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.reg.Clone()
	if err := fn(next); err != nil {
		return roster.State{}, err
	}
	s.reg = next

	return next.Snapshot(), nil
}

func (s *Storage) Close() error {
	return nil
}
