package testutil

import (
	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
)

// NopLogger returns a logger that discards all output.
// Use this in tests to avoid log noise.
func NopLogger() log.Interface {
	return &log.Logger{Handler: discard.New(), Level: log.DebugLevel}
}
