// Package logging configures the process-wide slog logger. Debug runs log to
// a size-capped rotating file so long agent sessions don't fill the disk.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Setup installs the default logger. When debug is false everything below
// Info is dropped and output goes to stderr. With a non-empty file path the
// log is written to a rotating file instead.
func Setup(debug bool, file string) (io.Closer, error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	var closer io.Closer

	if file != "" {
		rotating, err := NewRotatingFile(file)
		if err != nil {
			return nil, err
		}
		out = rotating
		closer = rotating
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return closer, nil
}
