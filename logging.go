/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/apex/log"
)

// logHandler writes entries as "<timestamp> | VERB: message key=value".
type logHandler struct {
	mu sync.Mutex
	w  io.Writer
}

func newLogHandler(w io.Writer) *logHandler {
	return &logHandler{w: w}
}

// hasVerb reports whether msg already starts with an upper-case verb such
// as "SERVE: ".
func hasVerb(msg string) bool {
	verb, _, ok := strings.Cut(msg, ": ")
	if !ok || verb == "" {
		return false
	}

	for _, r := range verb {
		if r < 'A' || r > 'Z' {
			return false
		}
	}

	return true
}

func (h *logHandler) HandleLog(e *log.Entry) error {
	var b strings.Builder

	b.WriteString(e.Timestamp.Format(logDate))
	b.WriteString(" | ")
	if !hasVerb(e.Message) {
		b.WriteString(strings.ToUpper(e.Level.String()))
		b.WriteString(": ")
	}
	b.WriteString(e.Message)

	for _, name := range e.Fields.Names() {
		fmt.Fprintf(&b, " %s=%v", name, e.Fields.Get(name))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := io.WriteString(h.w, b.String())

	return err
}

// setLogLevel shows debug output with --verbose, and only warnings and
// errors otherwise.
func setLogLevel(cfg *Config) {
	if cfg.verbose {
		log.SetLevel(log.DebugLevel)
		return
	}

	log.SetLevel(log.WarnLevel)
}

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Infof(format, args...)
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}
