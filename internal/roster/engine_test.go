package roster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/teamshuffle/internal/dependencies/mocks"
	"github.com/Seednode/teamshuffle/internal/dependencies/random"
)

func registerAll(t *testing.T, r *Registry, names ...string) []Player {
	t.Helper()

	out := make([]Player, 0, len(names))
	for _, name := range names {
		p, err := r.Register(name)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestPermutationIsFisherYates(t *testing.T) {
	rnd := mocks.NewMockRandom()
	rnd.QueueIntn(0, 0, 0)

	perm := NewEngine(rnd).Permutation(4)

	assert.Equal(t, []int{1, 2, 3, 0}, perm)
	assert.Equal(t, []int{4, 3, 2}, rnd.Calls)
}

func TestShuffleAssignsConsecutiveRuns(t *testing.T) {
	r := newTestRegistry(t)
	players := registerAll(t, r, "A", "B", "C", "D")

	rnd := mocks.NewMockRandom()
	rnd.QueueIntn(0, 0, 0)

	teams, err := NewEngine(rnd).Shuffle(r, 2)
	require.NoError(t, err)
	require.Len(t, teams, 2)

	// permutation [1 2 3 0]: B, C form team 1 and D, A form team 2;
	// members are listed in join order.
	assert.Equal(t, []PlayerID{players[1].ID, players[2].ID}, ids(teams[0].Players))
	assert.Equal(t, []PlayerID{players[0].ID, players[3].ID}, ids(teams[1].Players))
}

func TestShuffleRejectsInvalidTeamSize(t *testing.T) {
	r := newTestRegistry(t)
	registerAll(t, r, "A", "B")
	before := r.Snapshot()

	for _, size := range []int{0, -3} {
		_, err := NewEngine(random.New()).Shuffle(r, size)
		assert.ErrorIs(t, err, ErrInvalidTeamSize)
		assert.ErrorIs(t, err, ErrValidation)
	}

	assert.Equal(t, before, r.Snapshot())
}

func TestShuffleTeamSizes(t *testing.T) {
	engine := NewEngine(random.NewSeeded(1, 2))

	for n := 0; n <= 13; n++ {
		for size := 1; size <= 5; size++ {
			r := NewRegistry()
			for i := range n {
				_, err := r.Register(string(rune('a' + i)))
				require.NoError(t, err)
			}

			teams, err := engine.Shuffle(r, size)
			require.NoError(t, err)

			wantTeams := (n + size - 1) / size
			require.Len(t, teams, wantTeams, "n=%d size=%d", n, size)

			seen := make(map[PlayerID]bool)
			total := 0
			for i, team := range teams {
				assert.Equal(t, TeamKey(i+1), team.Key)
				if i < len(teams)-1 {
					assert.Len(t, team.Players, size)
				} else if n%size == 0 {
					assert.Len(t, team.Players, size)
				} else {
					assert.Len(t, team.Players, n%size)
				}
				for _, p := range team.Players {
					assert.False(t, seen[p.ID], "player %s appears twice", p.ID)
					seen[p.ID] = true
				}
				total += len(team.Players)
			}
			assert.Equal(t, n, total)
		}
	}
}

func TestShuffleIsUniform(t *testing.T) {
	const trials = 20000

	r := NewRegistry()
	players := registerAll(t, r, "A", "B", "C", "D")
	engine := NewEngine(random.NewSeeded(42, 7))

	inTeamOne := make(map[PlayerID]int)
	for range trials {
		teams, err := engine.Shuffle(r, 2)
		require.NoError(t, err)
		for _, p := range teams[0].Players {
			inTeamOne[p.ID]++
		}
	}

	for _, p := range players {
		share := float64(inTeamOne[p.ID]) / trials
		assert.InDelta(t, 0.5, share, 0.03, "player %s", p.Name)
	}
}

func TestPermutationPositionsAreUniform(t *testing.T) {
	const (
		n      = 5
		trials = 50000
	)

	engine := NewEngine(random.NewSeeded(3, 11))

	var counts [n][n]int
	for range trials {
		for pos, v := range engine.Permutation(n) {
			counts[v][pos]++
		}
	}

	want := float64(trials) / n
	for v := range n {
		for pos := range n {
			assert.InEpsilon(t, want, float64(counts[v][pos]), 0.05, "value %d at %d", v, pos)
		}
	}
}

func TestShuffleDiscardsPreviousAssignments(t *testing.T) {
	r := newTestRegistry(t)
	players := registerAll(t, r, "A", "B", "C")
	require.NoError(t, r.SetTeam(players[0].ID, 9))
	_, err := r.CreateTeam("Owls")
	require.NoError(t, err)

	teams, err := NewEngine(random.New()).Shuffle(r, 3)
	require.NoError(t, err)

	require.Len(t, teams, 1)
	assert.Equal(t, TeamKey(1), teams[0].Key)
	assert.Len(t, teams[0].Players, 3)
}

func TestShuffleEmptyRoster(t *testing.T) {
	teams, err := NewEngine(random.New()).Shuffle(newTestRegistry(t), 2)
	require.NoError(t, err)
	assert.Empty(t, teams)
}

func TestScenarioFourPlayersTeamsOfTwo(t *testing.T) {
	r := newTestRegistry(t)
	players := registerAll(t, r, "Bob", "Carl", "Dana", "Eve")

	teams, err := NewEngine(random.New()).Shuffle(r, 2)
	require.NoError(t, err)

	require.Len(t, teams, 2)
	assert.Equal(t, TeamKey(1), teams[0].Key)
	assert.Equal(t, TeamKey(2), teams[1].Key)
	assert.Len(t, teams[0].Players, 2)
	assert.Len(t, teams[1].Players, 2)

	union := append(ids(teams[0].Players), ids(teams[1].Players)...)
	assert.ElementsMatch(t, ids(players), union)
}

func TestAssignManuallyCollectsFailures(t *testing.T) {
	r := newTestRegistry(t)
	players := registerAll(t, r, "A", "B")
	p1, p2 := players[0], players[1]
	require.NoError(t, r.SetTeam(p2.ID, 1))

	teams, err := NewEngine(random.New()).AssignManually(r, Assignment{
		p1.ID: 2,
		p2.ID: Unassigned,
		"p3":  1,
	})

	var partial *PartialFailure
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, PlayerID("p3"), partial.Failures[0].PlayerID)
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	got1, _ := r.Lookup(p1.ID)
	got2, _ := r.Lookup(p2.ID)
	assert.Equal(t, TeamKey(2), got1.Team)
	assert.Equal(t, Unassigned, got2.Team)

	require.Len(t, teams, 1)
	assert.Equal(t, TeamKey(2), teams[0].Key)
}

func TestAssignManuallyRejectsNegativeKeys(t *testing.T) {
	r := newTestRegistry(t)
	players := registerAll(t, r, "A", "B")

	_, err := NewEngine(random.New()).AssignManually(r, Assignment{
		players[0].ID: -1,
		players[1].ID: 4,
	})

	var partial *PartialFailure
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, players[0].ID, partial.Failures[0].PlayerID)
	assert.ErrorIs(t, err, ErrValidation)

	got, _ := r.Lookup(players[1].ID)
	assert.Equal(t, TeamKey(4), got.Team)
}

func TestAssignManuallyRejectsKeysAboveMax(t *testing.T) {
	r := newTestRegistry(t)
	players := registerAll(t, r, "A", "B")

	_, err := NewEngine(random.New()).AssignManually(r, Assignment{
		players[0].ID: TeamKey(math.MaxInt),
		players[1].ID: MaxTeamKey,
	})

	var partial *PartialFailure
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, players[0].ID, partial.Failures[0].PlayerID)
	assert.ErrorIs(t, partial.Failures[0].Err, ErrValidation)

	got, _ := r.Lookup(players[0].ID)
	assert.Equal(t, Unassigned, got.Team)

	_, err = r.CreateTeam("")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAssignManuallyAllSucceed(t *testing.T) {
	r := newTestRegistry(t)
	players := registerAll(t, r, "A", "B", "C")

	teams, err := NewEngine(random.New()).AssignManually(r, Assignment{
		players[2].ID: 1,
		players[0].ID: 1,
		players[1].ID: 3,
	})
	require.NoError(t, err)

	require.Len(t, teams, 2)
	assert.Equal(t, []PlayerID{players[0].ID, players[2].ID}, ids(teams[0].Players))
	assert.Equal(t, TeamKey(3), teams[1].Key)
}

func TestPartialFailureMessage(t *testing.T) {
	err := &PartialFailure{Failures: []EntryFailure{
		{PlayerID: "x", Err: ErrPlayerNotFound},
		{PlayerID: "y", Err: ErrPlayerNotFound},
	}}

	assert.Equal(t, "2 assignment(s) failed: x: player not found; y: player not found", err.Error())
}
