package roster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxNameLength bounds player and team names, in runes.
const DefaultMaxNameLength = 50

// PlayerID is an opaque, never reused player identifier.
type PlayerID string

// TeamKey identifies a team. Valid keys start at 1.
type TeamKey int

// Unassigned is the team key of a player without a team. It is encoded as
// JSON null.
const Unassigned TeamKey = 0

// MaxTeamKey is the highest team key a player or team may carry.
const MaxTeamKey TeamKey = math.MaxInt32

func (k TeamKey) IsAssigned() bool {
	return k != Unassigned
}

// Valid reports whether k is Unassigned or a key in [1, MaxTeamKey].
func (k TeamKey) Valid() bool {
	return k >= Unassigned && k <= MaxTeamKey
}

func invalidTeam(k TeamKey) error {
	return &ValidationError{Field: "team", Message: fmt.Sprintf("invalid team %d (must be between 1 and %d)", k, MaxTeamKey)}
}

func (k TeamKey) MarshalJSON() ([]byte, error) {
	if k == Unassigned {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(k))), nil
}

func (k *TeamKey) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*k = Unassigned
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*k = TeamKey(n)
	return nil
}

// Player is a registered participant.
type Player struct {
	ID       PlayerID  `json:"id"`
	Name     string    `json:"name"`
	Team     TeamKey   `json:"team"`
	JoinedAt time.Time `json:"joinedAt"`
	Seq      uint64    `json:"seq"`
}

// cleanName trims name and checks it against the naming rules shared by
// players and teams.
func cleanName(field, name string, maxLen int) (string, error) {
	name = strings.TrimSpace(name)

	switch {
	case name == "":
		return "", &ValidationError{Field: field, Message: "name is required"}
	case !utf8.ValidString(name):
		return "", &ValidationError{Field: field, Message: "name must be valid UTF-8"}
	case utf8.RuneCountInString(name) > maxLen:
		return "", &ValidationError{Field: field, Message: "name must be at most " + strconv.Itoa(maxLen) + " characters"}
	}

	for _, r := range name {
		if !unicode.IsPrint(r) {
			return "", &ValidationError{Field: field, Message: "name contains unprintable characters"}
		}
	}

	return name, nil
}

// foldName returns the key used for case-insensitive name comparison.
func foldName(name string) string {
	return cases.Fold().String(norm.NFC.String(name))
}

// FoldName exposes the comparison key to stores that index names.
func FoldName(name string) string {
	return foldName(name)
}
