// Package logging builds the command line logger from the environment.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and closes its output file, if any.
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// NewLoggerWithWriter creates a logger writing to w. The level comes from
// SIGSCAN_LOG_LEVEL, falling back to level, then info.
func NewLoggerWithWriter(w io.Writer, level string) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})

	if env := os.Getenv("SIGSCAN_LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := log.ParseLevel(level)
	if err != nil || level == "" {
		lvl = log.InfoLevel
	}
	lg.SetLevel(lvl)

	prefix := os.Getenv("SIGSCAN_LOG_PREFIX")
	if prefix == "" {
		prefix = "sigscan"
	}

	var closer io.Closer
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a logger on stderr, or on a timestamped file in the
// working directory when SIGSCAN_LOG_TO_FILE is "1".
func NewLogger(level string) *LoggerCloser {
	output := io.Writer(os.Stderr)

	if os.Getenv("SIGSCAN_LOG_TO_FILE") == "1" {
		logFile := fmt.Sprintf("sigscan-%s.log", time.Now().Format("20060102-150405"))
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
	}

	return NewLoggerWithWriter(output, level)
}
