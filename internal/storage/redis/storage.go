// Package redis stores the roster in a single Redis key and announces every
// commit on a pub/sub channel, so several server processes can share one
// roster.
package redis

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Seednode/teamshuffle/internal/roster"
	"github.com/Seednode/teamshuffle/internal/storage"
)

// ErrConflict is returned when an update kept losing to concurrent writers.
var ErrConflict = errors.New("roster changed concurrently, retries exhausted")

// Storage implements storage.Store and storage.ChangeFeed using Redis
type Storage struct {
	client *redis.Client
	config Config
	opts   []roster.Option
}

// Ensure Storage implements the interfaces
var (
	_ storage.Store      = (*Storage)(nil)
	_ storage.ChangeFeed = (*Storage)(nil)
)

// New creates a new Redis storage instance
func New(ctx context.Context, cfg Config, opts ...roster.Option) (*Storage, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis URL")
	}

	redisOpts.PoolSize = cfg.PoolSize
	redisOpts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(redisOpts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", redisOpts.Addr)
	}

	return NewWithClient(client, cfg, opts...), nil
}

// NewWithClient creates a Redis storage using an existing client
// Useful for testing with miniredis
func NewWithClient(client *redis.Client, cfg Config, opts ...roster.Option) *Storage {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if cfg.MaxTxRetries < 1 {
		cfg.MaxTxRetries = DefaultConfig().MaxTxRetries
	}

	return &Storage{
		client: client,
		config: cfg,
		opts:   opts,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Storage) read(ctx context.Context, c getter) (*roster.Registry, error) {
	data, err := c.Get(ctx, s.rosterKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return roster.NewRegistry(s.opts...), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read roster")
	}

	var rec roster.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode roster")
	}

	reg, err := roster.FromRecord(rec, s.opts...)
	if err != nil {
		return nil, errors.Wrap(err, "stored roster is inconsistent")
	}

	return reg, nil
}

func (s *Storage) Load(ctx context.Context) (roster.State, error) {
	reg, err := s.read(ctx, s.client)
	if err != nil {
		return roster.State{}, err
	}

	return reg.Snapshot(), nil
}

// callerError marks errors returned by the update callback, which must reach
// the caller unwrapped.
type callerError struct {
	err error
}

func (e callerError) Error() string { return e.err.Error() }

// Update reads the roster under WATCH and commits it in MULTI/EXEC. When
// another writer commits first the whole read-modify-write is rerun.
func (s *Storage) Update(ctx context.Context, fn func(*roster.Registry) error) (roster.State, error) {
	var state roster.State

	txf := func(tx *redis.Tx) error {
		reg, err := s.read(ctx, tx)
		if err != nil {
			return err
		}

		if err := fn(reg); err != nil {
			return callerError{err: err}
		}

		data, err := json.Marshal(reg.Record())
		if err != nil {
			return errors.Wrap(err, "failed to encode roster")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.rosterKey(), data, 0)
			return nil
		})
		if err != nil {
			return err
		}

		state = reg.Snapshot()
		return nil
	}

	for range s.config.MaxTxRetries {
		err := s.client.Watch(ctx, txf, s.rosterKey())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		var ce callerError
		if errors.As(err, &ce) {
			return roster.State{}, ce.err
		}
		if err != nil {
			return roster.State{}, errors.Wrap(err, "failed to commit roster")
		}

		// Only committed versions are announced. A lost announcement is
		// picked up by peers on the next one, or when they resubscribe.
		version := strconv.FormatUint(state.Version, 10)
		_ = s.client.Publish(ctx, s.changesChannel(), version).Err()

		return state, nil
	}

	return roster.State{}, ErrConflict
}

// Subscribe listens on the change channel.
func (s *Storage) Subscribe(ctx context.Context) (storage.Feed, error) {
	ps := s.client.Subscribe(ctx, s.changesChannel())

	msg, err := ps.Receive(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "failed to subscribe to roster changes")
	}

	if _, ok := msg.(*redis.Subscription); !ok {
		_ = ps.Close()
		return nil, errors.Errorf("unexpected subscription reply %T", msg)
	}

	return &feed{ps: ps}, nil
}

type feed struct {
	ps *redis.PubSub
}

func (f *feed) Next(ctx context.Context) (uint64, error) {
	msg, err := f.ps.ReceiveMessage(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "change feed interrupted")
	}

	version, err := strconv.ParseUint(msg.Payload, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed change notification %q", msg.Payload)
	}

	return version, nil
}

func (f *feed) Close() error {
	return f.ps.Close()
}
