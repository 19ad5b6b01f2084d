// Package sqldb stores the roster as player and team rows through gorm.
package sqldb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Seednode/teamshuffle/internal/dependencies/clock"
	"github.com/Seednode/teamshuffle/internal/roster"
	"github.com/Seednode/teamshuffle/internal/storage"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const minTxRetries = 3

type Storage struct {
	db   *gorm.DB
	opts []roster.Option

	clock clock.Clock
	poll  time.Duration
}

var (
	_ storage.Store      = (*Storage)(nil)
	_ storage.ChangeFeed = (*Storage)(nil)
)

// Open connects to the database and migrates the schema.
func Open(driver, dsn string, opts ...roster.Option) (*Storage, error) {
	var dialector gorm.Dialector

	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", driver)
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}

		// foreign_keys is a per-connection pragma.
		sqlDB.SetMaxOpenConns(1)

		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, errors.Wrap(err, "failed to enable foreign keys")
		}
	}

	return New(db, opts...)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB, opts ...roster.Option) (*Storage, error) {
	if err := db.AutoMigrate(&teamRow{}, &playerRow{}, &metaRow{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	return &Storage{
		db:    db,
		opts:  opts,
		clock: clock.New(),
		poll:  DefaultPollInterval,
	}, nil
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func (s *Storage) Load(ctx context.Context) (roster.State, error) {
	reg, err := s.read(s.db.WithContext(ctx), false)
	if err != nil {
		return roster.State{}, err
	}

	return reg.Snapshot(), nil
}

type callerError struct {
	err error
}

func (e callerError) Error() string { return e.err.Error() }

// Update runs fn inside a transaction holding the roster_meta row lock.
func (s *Storage) Update(ctx context.Context, fn func(*roster.Registry) error) (roster.State, error) {
	var state roster.State

	err := withTxRetry(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		reg, err := s.read(tx, true)
		if err != nil {
			return err
		}

		before := make(map[roster.PlayerID]bool, reg.Len())
		for p := range reg.All() {
			before[p.ID] = true
		}

		if err := fn(reg); err != nil {
			return callerError{err: err}
		}

		if err := write(tx, before, reg); err != nil {
			return err
		}

		state = reg.Snapshot()
		return nil
	})

	var ce callerError
	if errors.As(err, &ce) {
		return roster.State{}, ce.err
	}
	if err != nil {
		return roster.State{}, errors.Wrap(err, "failed to commit roster")
	}

	return state, nil
}

// withTxRetry reruns fn in a fresh transaction when the database rejects
// it, such as on a deadlock. Callback errors are returned at once.
func withTxRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error

	for range minTxRetries {
		err = db.Transaction(fn)

		var ce callerError
		if err == nil || errors.As(err, &ce) || db.Statement.Context.Err() != nil {
			break
		}
	}

	return err
}

func (s *Storage) read(db *gorm.DB, lock bool) (*roster.Registry, error) {
	var meta metaRow

	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("id = ?", metaID).Limit(1).Find(&meta).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read roster version")
	}

	var players []playerRow
	if err := db.Order("seq").Find(&players).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read players")
	}

	var teams []teamRow
	if err := db.Where("explicit = ?", true).Order("id").Find(&teams).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read teams")
	}

	rec := roster.Record{
		Version: meta.Version,
		NextSeq: meta.NextSeq,
		Players: make([]roster.Player, 0, len(players)),
		Teams:   make([]roster.TeamEntity, 0, len(teams)),
	}

	for _, p := range players {
		team := roster.Unassigned
		if p.TeamID != nil {
			team = roster.TeamKey(*p.TeamID)
		}
		rec.Players = append(rec.Players, roster.Player{
			ID:       roster.PlayerID(p.ID),
			Name:     p.Name,
			Team:     team,
			JoinedAt: p.JoinedAt,
			Seq:      p.Seq,
		})
	}

	for _, t := range teams {
		rec.Teams = append(rec.Teams, roster.TeamEntity{
			Key:       roster.TeamKey(t.ID),
			Name:      t.Name,
			CreatedAt: t.CreatedAt,
		})
	}

	reg, err := roster.FromRecord(rec, s.opts...)
	if err != nil {
		return nil, errors.Wrap(err, "stored roster is inconsistent")
	}

	return reg, nil
}

func write(tx *gorm.DB, before map[roster.PlayerID]bool, reg *roster.Registry) error {
	rec := reg.Record()

	removed := make([]string, 0)
	for id := range before {
		if _, ok := reg.Lookup(id); !ok {
			removed = append(removed, string(id))
		}
	}
	if len(removed) > 0 {
		if err := tx.Where("id IN ?", removed).Delete(&playerRow{}).Error; err != nil {
			return errors.Wrap(err, "failed to delete players")
		}
	}

	explicit := make(map[roster.TeamKey]roster.TeamEntity, len(rec.Teams))
	for _, t := range rec.Teams {
		explicit[t.Key] = t
	}

	teams := reg.Teams()
	keys := make([]int, 0, len(teams))
	if len(teams) > 0 {
		rows := make([]teamRow, 0, len(teams))
		for _, t := range teams {
			row := teamRow{ID: int(t.Key), Name: t.Name}
			if e, ok := explicit[t.Key]; ok {
				row.Explicit = true
				row.CreatedAt = e.CreatedAt
			}
			rows = append(rows, row)
			keys = append(keys, int(t.Key))
		}

		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "explicit", "created_at"}),
		}).Create(&rows).Error
		if err != nil {
			return errors.Wrap(err, "failed to save teams")
		}
	}

	if len(rec.Players) > 0 {
		rows := make([]playerRow, 0, len(rec.Players))
		for _, p := range rec.Players {
			row := playerRow{
				ID:         string(p.ID),
				Name:       p.Name,
				FoldedName: roster.FoldName(p.Name),
				Seq:        p.Seq,
				JoinedAt:   p.JoinedAt,
			}
			if p.Team.IsAssigned() {
				key := int(p.Team)
				row.TeamID = &key
			}
			rows = append(rows, row)
		}

		err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"team_id"}),
		}).Create(&rows).Error
		if err != nil {
			return errors.Wrap(err, "failed to save players")
		}
	}

	stale := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	if len(keys) > 0 {
		stale = tx.Where("id NOT IN ?", keys)
	}
	if err := stale.Delete(&teamRow{}).Error; err != nil {
		return errors.Wrap(err, "failed to delete teams")
	}

	meta := metaRow{ID: metaID, Version: rec.Version, NextSeq: rec.NextSeq}
	if err := tx.Save(&meta).Error; err != nil {
		return errors.Wrap(err, "failed to save roster version")
	}

	return nil
}
