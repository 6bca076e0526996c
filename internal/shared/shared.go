// Package shared holds the cross-cutting pieces every layer uses: the error
// taxonomy, logging, identifiers, configuration, and persistence plumbing.
package shared

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// NewLogger builds the application logger. Output defaults to stderr; the level
// can be raised through the TRAX_LOG environment variable (debug, info, warn,
// error) without touching the config file.
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "trax",
	})

	if raw := os.Getenv("TRAX_LOG"); raw != "" {
		if level, err := log.ParseLevel(raw); err == nil {
			logger.SetLevel(level)
		}
	}

	return logger
}

// GenerateID returns a random v4 UUID string, used for job and entity ids.
func GenerateID() string {
	return uuid.New().String()
}
