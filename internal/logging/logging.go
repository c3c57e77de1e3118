// Package logging holds the process wide zerolog logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// L is the logger used by every package of the node.
	L zerolog.Logger

	mu      sync.Mutex
	console io.Writer
	logFile *os.File
)

func init() {
	console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	L = zerolog.New(console).With().Timestamp().Caller().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetLogLevel sets the global log level.
func SetLogLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a config string to a zerolog level. Unknown strings map to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLogOutput adds a log file under dir next to the console output.
// If toConsole is false only the file is written.
func SetLogOutput(dir, fileName string, toConsole bool) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, fileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f

	var out io.Writer = f
	if toConsole {
		out = zerolog.MultiLevelWriter(console, f)
	}
	L = zerolog.New(out).With().Timestamp().Caller().Logger()
	return nil
}

// Close closes the log file if one was opened.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
		L = zerolog.New(console).With().Timestamp().Caller().Logger()
	}
}
