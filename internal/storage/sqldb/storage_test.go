package sqldb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/teamshuffle/internal/dependencies/mocks"
	"github.com/Seednode/teamshuffle/internal/roster"
)

func openTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "roster.db")
	s, err := Open(DriverSQLite, dsn)
	require.NoErrorf(t, err, "Open failed: %s", err)
	t.Cleanup(func() { _ = s.Close() })

	return s, dsn
}

func register(t *testing.T, s *Storage, names ...string) roster.State {
	t.Helper()

	state, err := s.Update(context.Background(), func(r *roster.Registry) error {
		for _, name := range names {
			if _, err := r.Register(name); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	return state
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "")
	assert.Error(t, err)
}

func TestLoadEmpty(t *testing.T) {
	s, _ := openTestStorage(t)

	state, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Players)
	assert.Empty(t, state.Teams)
	assert.Zero(t, state.Version)
}

func TestRosterSurvivesReopen(t *testing.T) {
	s, dsn := openTestStorage(t)
	ctx := context.Background()

	clk := mocks.NewMockClock(time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC))
	s.opts = []roster.Option{roster.WithClock(clk)}

	state := register(t, s, "Alice", "Bob", "Carl")

	_, err := s.Update(ctx, func(r *roster.Registry) error {
		_, err := roster.NewEngine(mocks.NewMockRandom()).AssignManually(r, roster.Assignment{
			state.Players[0].ID: 1,
			state.Players[1].ID: 2,
		})
		if err != nil {
			return err
		}
		_, err = r.RenameTeam(2, "Blues")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), loaded.Version)
	require.Len(t, loaded.Players, 3)
	assert.Equal(t, []string{"Alice", "Bob", "Carl"}, []string{
		loaded.Players[0].Name, loaded.Players[1].Name, loaded.Players[2].Name,
	})
	assert.Equal(t, roster.TeamKey(1), loaded.Players[0].Team)
	assert.Equal(t, roster.TeamKey(2), loaded.Players[1].Team)
	assert.Equal(t, roster.Unassigned, loaded.Players[2].Team)
	assert.True(t, state.Players[0].JoinedAt.Equal(loaded.Players[0].JoinedAt))

	require.Len(t, loaded.Teams, 2)
	assert.Equal(t, "Team 1", loaded.Teams[0].Name)
	assert.Equal(t, "Blues", loaded.Teams[1].Name)
}

func TestDuplicateNameAcrossWrites(t *testing.T) {
	s, _ := openTestStorage(t)
	register(t, s, "Alice")

	_, err := s.Update(context.Background(), func(r *roster.Registry) error {
		_, err := r.Register("ALICE")
		return err
	})
	assert.ErrorIs(t, err, roster.ErrDuplicateName)
}

func TestCallbackErrorRollsBack(t *testing.T) {
	s, _ := openTestStorage(t)
	register(t, s, "Alice")

	boom := errors.New("boom")
	_, err := s.Update(context.Background(), func(r *roster.Registry) error {
		if _, err := r.Register("Bob"); err != nil {
			return err
		}
		r.Reset()
		return boom
	})
	assert.ErrorIs(t, err, boom)

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded.Players, 1)
	assert.Equal(t, "Alice", loaded.Players[0].Name)
}

func TestRemoveAndResetDeleteRows(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()
	state := register(t, s, "Alice", "Bob")

	_, err := s.Update(ctx, func(r *roster.Registry) error {
		return r.Remove(state.Players[0].ID)
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, s.db.Model(&playerRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// The removed name is free again.
	register(t, s, "alice")

	_, err = s.Update(ctx, func(r *roster.Registry) error {
		if _, err := r.CreateTeam("Reds"); err != nil {
			return err
		}
		r.Reset()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.db.Model(&playerRow{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, s.db.Model(&teamRow{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestExplicitTeamsPersistEmpty(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()

	_, err := s.Update(ctx, func(r *roster.Registry) error {
		_, err := r.CreateTeam("")
		return err
	})
	require.NoError(t, err)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Teams, 1)
	assert.Equal(t, "Team 1", loaded.Teams[0].Name)
	assert.Empty(t, loaded.Teams[0].Players)
}

func TestImplicitTeamsVanishWhenEmpty(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()
	state := register(t, s, "Alice")

	_, err := s.Update(ctx, func(r *roster.Registry) error {
		return r.SetTeam(state.Players[0].ID, 3)
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, s.db.Model(&teamRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	_, err = s.Update(ctx, func(r *roster.Registry) error {
		return r.SetTeam(state.Players[0].ID, roster.Unassigned)
	})
	require.NoError(t, err)

	require.NoError(t, s.db.Model(&teamRow{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDeletingTeamRowUnassignsMembers(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()
	state := register(t, s, "Alice", "Bob")

	_, err := s.Update(ctx, func(r *roster.Registry) error {
		_, err := roster.NewEngine(mocks.NewMockRandom()).Shuffle(r, 1)
		return err
	})
	require.NoError(t, err)

	require.NoError(t, s.db.Where("id = ?", 1).Delete(&teamRow{}).Error)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Players, 2)

	teams := map[roster.PlayerID]roster.TeamKey{}
	for _, p := range loaded.Players {
		teams[p.ID] = p.Team
	}
	assert.Len(t, teams, len(state.Players))
	assert.Contains(t, teams, state.Players[0].ID)

	unassigned := 0
	for _, key := range teams {
		if !key.IsAssigned() {
			unassigned++
		}
	}
	assert.Equal(t, 1, unassigned)
}

func TestShufflePersistsPartition(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()
	register(t, s, "A", "B", "C", "D", "E")

	state, err := s.Update(ctx, func(r *roster.Registry) error {
		_, err := roster.NewEngine(mocks.NewMockRandom()).Shuffle(r, 2)
		return err
	})
	require.NoError(t, err)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Version, loaded.Version)
	require.Len(t, loaded.Teams, 3)
	assert.Len(t, loaded.Teams[0].Players, 2)
	assert.Len(t, loaded.Teams[1].Players, 2)
	assert.Len(t, loaded.Teams[2].Players, 1)
}

func TestLoadHonorsContext(t *testing.T) {
	s, _ := openTestStorage(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := s.Load(ctx)
	assert.Error(t, err)
}
