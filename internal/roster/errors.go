package roster

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("invalid input")

	ErrDuplicateName  = errors.New("player name already exists")
	ErrPlayerNotFound = errors.New("player not found")
	ErrTeamNotFound   = errors.New("team not found")

	// ErrInvalidTeamSize is returned by Engine.Shuffle for team sizes below 1.
	ErrInvalidTeamSize = &ValidationError{Field: "teamSize", Message: "team size must be at least 1"}
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// EntryFailure is a single rejected entry of a batch assignment.
type EntryFailure struct {
	PlayerID PlayerID `json:"playerId"`
	Err      error    `json:"-"`
}

// PartialFailure collects every failed entry of a batch operation. Entries
// that are not listed were applied.
type PartialFailure struct {
	Failures []EntryFailure
}

func (e *PartialFailure) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%d assignment(s) failed", len(e.Failures))
	for i, f := range e.Failures {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", f.PlayerID, f.Err)
	}

	return b.String()
}

func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
