// Package logging wires the daemon's structured logger. It follows the
// go-ethereum convention carried by the teacher (github.com/luxfi/geth/log):
// a single process-wide handler configured once at startup, with every
// package logging through leveled key/value calls rather than building its
// own logger.
package logging

import (
	"io"
	"os"

	"github.com/luxfi/geth/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls how the root logger is configured.
type Options struct {
	// Level is one of "trace", "debug", "info", "warn", "error", "crit".
	Level string
	// JSON selects the JSON handler over the human-readable terminal one.
	JSON bool
	// File, when non-empty, also writes logs to a rotating file.
	File string
	// FileMaxSizeMB bounds a single rotated log file, mirroring lumberjack's
	// own default-driven API.
	FileMaxSizeMB int
	// FileMaxBackups bounds how many rotated files are retained.
	FileMaxBackups int
}

// DefaultOptions returns sane defaults for interactive use.
func DefaultOptions() Options {
	return Options{
		Level:          "info",
		FileMaxSizeMB:  100,
		FileMaxBackups: 5,
	}
}

// Configure installs the root logger described by opts. It is called once
// at process startup (cmd/croncatd/command/serve.go); every other package just calls
// log.Info/log.Warn/... against the default logger.
func Configure(opts Options) error {
	level, err := log.LvlFromString(opts.Level)
	if err != nil {
		return err
	}

	var dest io.Writer = colorable.NewColorable(os.Stderr)
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.FileMaxSizeMB,
			MaxBackups: opts.FileMaxBackups,
			Compress:   true,
		}
		dest = io.MultiWriter(dest, rotator)
	}

	useColor := !opts.JSON && isatty.IsTerminal(os.Stderr.Fd())
	base := log.NewTerminalHandler(dest, useColor)
	filtered := log.LvlFilterHandler(level, base)
	if opts.JSON {
		filtered = log.LvlFilterHandler(level, log.JSONHandler(dest))
	}

	log.SetDefault(log.NewLogger(filtered))
	return nil
}
