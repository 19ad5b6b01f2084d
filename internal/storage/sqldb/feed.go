package sqldb

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/Seednode/teamshuffle/internal/storage"
)

// DefaultPollInterval is how often a change feed reads the roster version.
const DefaultPollInterval = time.Second

// SetPollInterval changes how often change feeds read the roster version.
func (s *Storage) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.poll = d
	}
}

func (s *Storage) version(ctx context.Context) (uint64, error) {
	var meta metaRow

	if err := s.db.WithContext(ctx).Where("id = ?", metaID).Limit(1).Find(&meta).Error; err != nil {
		return 0, errors.Wrap(err, "failed to read roster version")
	}

	return meta.Version, nil
}

// Subscribe follows commits of every process sharing the database by
// polling roster_meta. The first read confirms the database is reachable.
func (s *Storage) Subscribe(ctx context.Context) (storage.Feed, error) {
	version, err := s.version(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to roster changes")
	}

	return &pollFeed{s: s, last: version}, nil
}

type pollFeed struct {
	s    *Storage
	last uint64
}

// Next reports the next version that differs from the last one seen,
// including a lower one after the database was restored.
func (f *pollFeed) Next(ctx context.Context) (uint64, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-f.s.clock.After(f.s.poll):
		}

		version, err := f.s.version(ctx)
		if err != nil {
			return 0, errors.Wrap(err, "change feed interrupted")
		}

		if version != f.last {
			f.last = version
			return version, nil
		}
	}
}

func (f *pollFeed) Close() error {
	return nil
}
