package main

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/Seednode/teamshuffle/internal/dependencies/clock"
	"github.com/Seednode/teamshuffle/internal/retry"
	"github.com/Seednode/teamshuffle/internal/roster"
	"github.com/Seednode/teamshuffle/internal/storage"
	"github.com/Seednode/teamshuffle/internal/storage/memory"
	"github.com/Seednode/teamshuffle/internal/storage/redis"
	"github.com/Seednode/teamshuffle/internal/storage/sqldb"
)

func openStore(ctx context.Context, cfg *Config) (storage.Store, error) {
	opts := []roster.Option{roster.WithMaxNameLength(cfg.maxNameLength)}

	switch cfg.store {
	case storeMemory:
		return memory.New(opts...), nil
	case storeRedis:
		rc := redis.DefaultConfig()
		rc.URL = cfg.redisURL
		rc.Prefix = cfg.redisPrefix

		return redis.New(ctx, rc, opts...)
	case storeSQLite, storeMySQL:
		driver := sqldb.DriverSQLite
		if cfg.store == storeMySQL {
			driver = sqldb.DriverMySQL
		}

		s, err := sqldb.Open(driver, cfg.database, opts...)
		if err != nil {
			return nil, err
		}
		s.SetPollInterval(cfg.pollInterval)

		return s, nil
	}

	return nil, fmt.Errorf("unknown store %q", cfg.store)
}

// connectStore opens the store, retrying with the reconnect policy while it
// is unreachable. It gives up with retry.ErrExhausted.
func connectStore(ctx context.Context, cfg *Config, clk clock.Clock) (storage.Store, error) {
	var store storage.Store

	err := retry.Do(ctx, clk, cfg.retryPolicy(), func(ctx context.Context) error {
		var err error
		store, err = openStore(ctx, cfg)
		return err
	}, func(err error, attempt int, delay time.Duration) {
		log.WithError(err).WithFields(log.Fields{
			"store":   cfg.store,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("STORE: Unreachable, retrying")
	})
	if err != nil {
		return nil, err
	}

	return store, nil
}
