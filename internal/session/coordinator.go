// Package session owns the one roster of a running server. Every mutation
// goes through a Coordinator, which commits it to the store and only then
// publishes the new state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apex/log"

	"github.com/Seednode/teamshuffle/internal/broadcast"
	"github.com/Seednode/teamshuffle/internal/dependencies/clock"
	"github.com/Seednode/teamshuffle/internal/dependencies/random"
	"github.com/Seednode/teamshuffle/internal/retry"
	"github.com/Seednode/teamshuffle/internal/roster"
	"github.com/Seednode/teamshuffle/internal/storage"
)

// ErrUnavailable wraps failures of the backing store.
var ErrUnavailable = errors.New("roster store unavailable")

// Change feed connectivity.
const (
	StatusConnecting = "connecting"
	StatusLive       = "live"
	StatusDegraded   = "degraded"
)

type Options struct {
	Random random.Random
	Clock  clock.Clock
	Retry  retry.Policy
	Logger log.Interface
}

type Coordinator struct {
	store  storage.Store
	hub    *broadcast.Hub
	engine *roster.Engine
	clock  clock.Clock
	policy retry.Policy
	log    log.Interface

	// writeMu serializes every store write and reload.
	writeMu sync.Mutex

	mu     sync.RWMutex
	state  roster.State
	status string

	reconnect chan struct{}
}

func New(store storage.Store, hub *broadcast.Hub, opts Options) *Coordinator {
	if opts.Random == nil {
		opts.Random = random.New()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = log.Log
	}

	status := StatusLive
	if _, ok := store.(storage.ChangeFeed); ok {
		status = StatusConnecting
	}

	return &Coordinator{
		store:     store,
		hub:       hub,
		engine:    roster.NewEngine(opts.Random),
		clock:     opts.Clock,
		policy:    opts.Retry,
		log:       opts.Logger.WithField("component", "session"),
		state:     roster.State{Players: []roster.Player{}, Teams: []roster.Team{}},
		status:    status,
		reconnect: make(chan struct{}, 1),
	}
}

// isDomainError reports whether err is a rejected operation rather than a
// store failure.
func isDomainError(err error) bool {
	var pf *roster.PartialFailure

	return errors.Is(err, roster.ErrValidation) ||
		errors.Is(err, roster.ErrDuplicateName) ||
		errors.Is(err, roster.ErrPlayerNotFound) ||
		errors.Is(err, roster.ErrTeamNotFound) ||
		errors.As(err, &pf)
}

func (c *Coordinator) update(ctx context.Context, op string, fn func(*roster.Registry) error) (roster.State, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	state, err := c.store.Update(ctx, fn)
	switch {
	case err == nil:
	case isDomainError(err):
		return roster.State{}, err
	default:
		c.log.WithError(err).WithField("op", op).Error("store update failed")
		return roster.State{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	c.commit(state, false)

	c.log.WithFields(log.Fields{
		"op":      op,
		"version": state.Version,
		"players": len(state.Players),
	}).Debug("roster committed")

	return state, nil
}

// commit caches state and publishes it. Callers hold writeMu, so state is
// the newest committed one: a lower version than the cached state means the
// store was rolled back and is pushed as an authoritative resync. Without
// force, a state with the cached version is ignored.
func (c *Coordinator) commit(state roster.State, force bool) {
	c.mu.Lock()
	current := c.state.Version
	if !force && state.Version == current {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if force || state.Version < current {
		if state.Version < current {
			c.log.WithFields(log.Fields{
				"version": state.Version,
				"cached":  current,
			}).Warn("store version went backwards, resyncing")
		}
		c.hub.Force(state)
		return
	}

	c.hub.Publish(state)
}

// Join registers a new player and announces it.
func (c *Coordinator) Join(ctx context.Context, name string) (roster.Player, error) {
	var p roster.Player

	_, err := c.update(ctx, "join", func(r *roster.Registry) error {
		var err error
		p, err = r.Register(name)
		return err
	})
	if err != nil {
		return roster.Player{}, err
	}

	c.hub.Joined(p)

	return p, nil
}

// List returns the last committed state without touching the store.
func (c *Coordinator) List() roster.State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

func (c *Coordinator) Shuffle(ctx context.Context, teamSize int) ([]roster.Team, error) {
	if teamSize < 1 {
		return nil, roster.ErrInvalidTeamSize
	}

	state, err := c.update(ctx, "shuffle", func(r *roster.Registry) error {
		_, err := c.engine.Shuffle(r, teamSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	return state.Teams, nil
}

// Assign applies a manual assignment. A *roster.PartialFailure is returned
// alongside the teams when some entries were rejected; the rest are
// committed.
func (c *Coordinator) Assign(ctx context.Context, mapping roster.Assignment) ([]roster.Team, error) {
	var partial *roster.PartialFailure

	state, err := c.update(ctx, "assign", func(r *roster.Registry) error {
		partial = nil

		_, err := c.engine.AssignManually(r, mapping)
		if errors.As(err, &partial) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if partial != nil {
		return state.Teams, partial
	}

	return state.Teams, nil
}

func (c *Coordinator) Reset(ctx context.Context) error {
	_, err := c.update(ctx, "reset", func(r *roster.Registry) error {
		r.Reset()
		return nil
	})

	return err
}

func (c *Coordinator) Remove(ctx context.Context, id roster.PlayerID) error {
	_, err := c.update(ctx, "remove", func(r *roster.Registry) error {
		return r.Remove(id)
	})

	return err
}

func (c *Coordinator) CreateTeam(ctx context.Context, name string) (roster.TeamEntity, error) {
	var t roster.TeamEntity

	_, err := c.update(ctx, "create-team", func(r *roster.Registry) error {
		var err error
		t, err = r.CreateTeam(name)
		return err
	})

	return t, err
}

func (c *Coordinator) RenameTeam(ctx context.Context, key roster.TeamKey, name string) (roster.TeamEntity, error) {
	var t roster.TeamEntity

	_, err := c.update(ctx, "rename-team", func(r *roster.Registry) error {
		var err error
		t, err = r.RenameTeam(key, name)
		return err
	})

	return t, err
}

func (c *Coordinator) DeleteTeam(ctx context.Context, key roster.TeamKey) error {
	_, err := c.update(ctx, "delete-team", func(r *roster.Registry) error {
		return r.DeleteTeam(key)
	})

	return err
}

// Subscribe attaches a push subscriber. Its first event is the current
// state.
func (c *Coordinator) Subscribe() *broadcast.Subscription {
	return c.hub.Subscribe()
}

// Resync re-sends the current state to one subscriber.
func (c *Coordinator) Resync(sub *broadcast.Subscription) {
	c.hub.Resync(sub)
}

// Subscribers is the number of attached push subscribers.
func (c *Coordinator) Subscribers() int {
	return c.hub.SubscriberCount()
}

func (c *Coordinator) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.status
}

func (c *Coordinator) setStatus(status string) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	c.mu.Unlock()

	if changed {
		c.log.WithField("status", status).Info("change feed status")
	}

	c.hub.SetStatus(status)
}

// Reconnect cuts a pending backoff short, or restarts the change feed after
// the retries were exhausted. It is a no-op while the feed is live.
func (c *Coordinator) Reconnect() {
	if c.Status() == StatusLive {
		return
	}

	select {
	case c.reconnect <- struct{}{}:
	default:
	}
}

// drainReconnect discards a Reconnect requested while the feed was already
// being (re)established, so it cannot skip the next backoff delay.
func (c *Coordinator) drainReconnect() {
	select {
	case <-c.reconnect:
	default:
	}
}

// Load replaces the cached state with the committed one and pushes it to
// every subscriber.
func (c *Coordinator) Load(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	state, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	c.commit(state, true)

	return nil
}

func (c *Coordinator) refresh(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	state, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	c.commit(state, false)

	return nil
}

// Run loads the roster and, for stores shared with other processes, follows
// their change feed until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	cf, ok := c.store.(storage.ChangeFeed)
	if !ok {
		if err := c.Load(ctx); err != nil {
			return err
		}
		c.setStatus(StatusLive)

		<-ctx.Done()
		return nil
	}

	c.setStatus(StatusConnecting)

	b := c.policy.Start()
	for {
		err := c.listen(ctx, cf, b)
		if ctx.Err() != nil {
			return nil
		}

		delay, ok := b.Next()
		if !ok {
			c.log.WithError(err).WithField("attempts", b.Attempts()).Error("change feed retries exhausted")
			c.setStatus(StatusDegraded)

			select {
			case <-ctx.Done():
				return nil
			case <-c.reconnect:
			}

			b.Reset()
			c.setStatus(StatusConnecting)
			continue
		}

		c.log.WithError(err).WithFields(log.Fields{
			"attempt": b.Attempts(),
			"delay":   delay,
		}).Warn("change feed lost, retrying")
		c.setStatus(StatusConnecting)

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(delay):
		case <-c.reconnect:
			b.Reset()
		}
	}
}

// listen subscribes, resyncs from the store and then reloads on every
// notification. It returns when the feed breaks.
func (c *Coordinator) listen(ctx context.Context, cf storage.ChangeFeed, b *retry.Backoff) error {
	feed, err := cf.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer feed.Close()

	if err := c.Load(ctx); err != nil {
		return err
	}

	b.Reset()
	c.drainReconnect()
	c.setStatus(StatusLive)

	for {
		version, err := feed.Next(ctx)
		if err != nil {
			return err
		}

		// Lower versions are reloaded too: either a late notice of an
		// older write, or a store that was rolled back.
		if version == c.List().Version {
			continue
		}

		if err := c.refresh(ctx); err != nil {
			return err
		}
	}
}
