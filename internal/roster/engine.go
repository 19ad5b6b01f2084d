package roster

import (
	"slices"

	"github.com/Seednode/teamshuffle/internal/dependencies/random"
)

// Assignment maps player ids to team keys; Unassigned clears a team.
type Assignment map[PlayerID]TeamKey

// Engine computes team partitions.
type Engine struct {
	rnd random.Random
}

func NewEngine(rnd random.Random) *Engine {
	return &Engine{rnd: rnd}
}

// Permutation returns a uniformly random permutation of [0, n) using the
// Fisher-Yates algorithm.
func (e *Engine) Permutation(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	for i := n - 1; i > 0; i-- {
		j := e.rnd.Intn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	return perm
}

// Shuffle randomly partitions every registered player into consecutive
// teams of teamSize, keyed 1, 2, 3, ...; only the last team may be short.
// All previous assignments and team entities are discarded.
func (e *Engine) Shuffle(reg *Registry, teamSize int) ([]Team, error) {
	if teamSize < 1 {
		return nil, ErrInvalidTeamSize
	}

	for pos, i := range e.Permutation(len(reg.players)) {
		reg.players[i].Team = TeamKey(pos/teamSize + 1)
	}
	clear(reg.teams)
	reg.touch()

	return reg.Teams(), nil
}

// AssignManually applies every entry independently. Entries for unknown
// players or invalid keys are returned in a *PartialFailure; all other
// entries stay applied.
func (e *Engine) AssignManually(reg *Registry, mapping Assignment) ([]Team, error) {
	var failures []EntryFailure

	applied := make(map[PlayerID]bool, len(mapping))
	for _, p := range reg.players {
		key, ok := mapping[p.ID]
		if !ok {
			continue
		}
		applied[p.ID] = true

		if !key.Valid() {
			failures = append(failures, EntryFailure{PlayerID: p.ID, Err: invalidTeam(key)})
			continue
		}
		reg.players[reg.index[p.ID]].Team = key
	}

	unknown := make([]PlayerID, 0)
	for id := range mapping {
		if !applied[id] {
			unknown = append(unknown, id)
		}
	}
	slices.Sort(unknown)
	for _, id := range unknown {
		failures = append(failures, EntryFailure{PlayerID: id, Err: ErrPlayerNotFound})
	}

	if len(mapping) > len(unknown) {
		reg.touch()
	}

	teams := reg.Teams()
	if len(failures) > 0 {
		return teams, &PartialFailure{Failures: failures}
	}

	return teams, nil
}
