package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/teamshuffle/internal/roster"
	"github.com/Seednode/teamshuffle/internal/watch"
)

func TestParseTeamKey(t *testing.T) {
	for in, want := range map[string]roster.TeamKey{
		"1":    1,
		"12":   12,
		"0":    roster.Unassigned,
		"none": roster.Unassigned,
		"NULL": roster.Unassigned,
		"-":    roster.Unassigned,
	} {
		got, err := parseTeamKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "-1", "red", "1.5"} {
		_, err := parseTeamKey(in)
		assert.Error(t, err, in)
	}
}

func TestParseAssignments(t *testing.T) {
	mapping, err := parseAssignments([]string{"a=1", "b=none", "c=2"})
	require.NoError(t, err)

	assert.Equal(t, roster.Assignment{"a": 1, "b": roster.Unassigned, "c": 2}, mapping)

	_, err = parseAssignments([]string{"a"})
	assert.ErrorContains(t, err, "expected ID=TEAM")

	_, err = parseAssignments([]string{"=1"})
	assert.Error(t, err)

	_, err = parseAssignments([]string{"a=x"})
	assert.ErrorContains(t, err, "invalid team")
}

func TestPrintState(t *testing.T) {
	players := []roster.Player{
		{ID: "p1", Name: "Alice", Team: 1},
		{ID: "p2", Name: "Bob"},
		{ID: "p3", Name: "Carl", Team: 1},
	}

	var out bytes.Buffer
	printState(&out, roster.State{
		Version: 4,
		Players: players,
		Teams:   roster.Materialize(players, nil),
	})

	assert.Equal(t, `version 4, 3 players
Team 1 (#1, 2 players)
  p1  Alice
  p3  Carl
Unassigned
  p2  Bob
`, out.String())
}

func TestPrintEvents(t *testing.T) {
	events := make(chan watch.Event, 4)
	events <- watch.Event{Kind: watch.KindConnection, Status: watch.StatusLive}
	events <- watch.Event{Kind: watch.KindJoined, Player: roster.Player{Name: "Dana"}}
	events <- watch.Event{Kind: watch.KindServerStatus, Status: "degraded"}
	events <- watch.Event{Kind: watch.KindConnection, Status: watch.StatusDegraded}
	close(events)

	var out bytes.Buffer
	require.NoError(t, printEvents(&out, events))

	assert.Equal(t, `connection: live
+ Dana joined
server: degraded
connection: degraded
press enter to reconnect
`, out.String())
}
