package roster

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterializeGroupsByAscendingKey(t *testing.T) {
	players := []Player{
		{ID: "a", Name: "A", Team: 3},
		{ID: "b", Name: "B", Team: 1},
		{ID: "c", Name: "C", Team: Unassigned},
		{ID: "d", Name: "D", Team: 3},
		{ID: "e", Name: "E", Team: 1},
	}

	teams := Materialize(players, nil)
	require.Len(t, teams, 2)

	assert.Equal(t, TeamKey(1), teams[0].Key)
	assert.Equal(t, "Team 1", teams[0].Name)
	assert.Equal(t, []PlayerID{"b", "e"}, ids(teams[0].Players))

	assert.Equal(t, TeamKey(3), teams[1].Key)
	assert.Equal(t, []PlayerID{"a", "d"}, ids(teams[1].Players))
}

func TestMaterializeIncludesEmptyEntities(t *testing.T) {
	teams := Materialize(
		[]Player{{ID: "a", Team: 2}},
		[]TeamEntity{{Key: 5, Name: "Owls"}, {Key: 2, Name: "Hawks"}},
	)

	require.Len(t, teams, 2)
	assert.Equal(t, "Hawks", teams[0].Name)
	assert.Len(t, teams[0].Players, 1)
	assert.Equal(t, "Owls", teams[1].Name)
	assert.NotNil(t, teams[1].Players)
	assert.Empty(t, teams[1].Players)
}

func TestMaterializeEmpty(t *testing.T) {
	teams := Materialize(nil, nil)
	assert.NotNil(t, teams)
	assert.Empty(t, teams)
}

func TestTeamKeyJSON(t *testing.T) {
	out, err := json.Marshal(Player{ID: "a", Name: "A"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"team":null`)

	out, err = json.Marshal(Player{ID: "a", Name: "A", Team: 4})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"team":4`)

	var mapping Assignment
	require.NoError(t, json.Unmarshal([]byte(`{"p1": 2, "p2": null, "p3": 0}`), &mapping))
	assert.Equal(t, Assignment{"p1": 2, "p2": Unassigned, "p3": Unassigned}, mapping)

	assert.Error(t, json.Unmarshal([]byte(`{"p1": "two"}`), &mapping))
}

func ids(players []Player) []PlayerID {
	out := make([]PlayerID, 0, len(players))
	for _, p := range players {
		out = append(out, p.ID)
	}
	return out
}
