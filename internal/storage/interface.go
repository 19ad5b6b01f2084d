package storage

import (
	"context"

	"github.com/Seednode/teamshuffle/internal/roster"
)

// Store holds the committed roster.
type Store interface {
	// Load returns the committed state.
	Load(ctx context.Context) (roster.State, error)

	// Update runs fn against the committed registry and commits the result
	// atomically. Nothing is committed when fn returns an error. fn may run
	// more than once when a store retries a conflicting transaction.
	Update(ctx context.Context, fn func(*roster.Registry) error) (roster.State, error)

	Close() error
}

// ChangeFeed is implemented by stores that other processes can write to.
type ChangeFeed interface {
	// Subscribe returns once the store has confirmed the subscription.
	Subscribe(ctx context.Context) (Feed, error)
}

// Feed delivers change notifications. A notification carries no state;
// subscribers reload the full snapshot.
type Feed interface {
	// Next blocks until the next change and returns the committed version
	// it announced.
	Next(ctx context.Context) (uint64, error)

	Close() error
}
