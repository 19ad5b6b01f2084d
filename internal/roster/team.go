package roster

import (
	"slices"
	"strconv"
	"time"
)

// TeamEntity is a team that was created or named explicitly. Teams without
// an entity exist implicitly while players carry their key.
type TeamEntity struct {
	Key       TeamKey   `json:"key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Team is a derived view of the players carrying one team key.
type Team struct {
	Key     TeamKey  `json:"teamNumber"`
	Name    string   `json:"name"`
	Players []Player `json:"players"`
}

// DefaultTeamName is the generated name of team key.
func DefaultTeamName(key TeamKey) string {
	return "Team " + strconv.Itoa(int(key))
}

// Materialize groups players by team key. Teams are ordered by ascending
// key and members keep the order of players. Entities without members are
// included; unassigned players are not.
func Materialize(players []Player, entities []TeamEntity) []Team {
	byKey := make(map[TeamKey]*Team)
	keys := make([]TeamKey, 0)

	team := func(key TeamKey) *Team {
		if t, ok := byKey[key]; ok {
			return t
		}
		t := &Team{Key: key, Name: DefaultTeamName(key), Players: []Player{}}
		byKey[key] = t
		keys = append(keys, key)
		return t
	}

	for _, e := range entities {
		if !e.Key.IsAssigned() {
			continue
		}
		t := team(e.Key)
		if e.Name != "" {
			t.Name = e.Name
		}
	}

	for _, p := range players {
		if !p.Team.IsAssigned() {
			continue
		}
		t := team(p.Team)
		t.Players = append(t.Players, p)
	}

	slices.Sort(keys)

	teams := make([]Team, 0, len(keys))
	for _, k := range keys {
		teams = append(teams, *byKey[k])
	}

	return teams
}
