// Package logging provides the process-wide structured logger.
// Packages dot-import it to call L_info, L_debug and friends directly.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stderr, DefaultConfig())
)

// Config holds logging configuration.
type Config struct {
	Level      string
	TimeFormat string
	ShowCaller bool
}

// DefaultConfig returns info-level logging with short timestamps.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		TimeFormat: "15:04:05",
	}
}

// Init replaces the global logger. Unknown levels fall back to info.
func Init(cfg Config) {
	InitWithWriter(os.Stderr, cfg)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(w io.Writer, cfg Config) {
	l := newLogger(w, cfg)
	mu.Lock()
	logger = l
	mu.Unlock()
}

func newLogger(w io.Writer, cfg Config) *log.Logger {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.Kitchen
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		ReportCaller:    cfg.ShowCaller,
		CallerOffset:    2, // logMsg -> L_* -> caller
	})
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = log.InfoLevel
	}
	l.SetLevel(level)
	return l
}

// SetLevel changes the log level at runtime.
func SetLevel(level string) error {
	parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	mu.RLock()
	logger.SetLevel(parsed)
	mu.RUnlock()
	return nil
}

// hasFmtVerb reports whether msg looks like a printf format.
func hasFmtVerb(msg string) bool {
	for i := 0; i < len(msg)-1; i++ {
		if msg[i] == '%' && msg[i+1] != '%' && strings.ContainsRune("vsdqfgtxX", rune(msg[i+1])) {
			return true
		}
	}
	return false
}

// logMsg accepts either printf-style args or structured key/value pairs.
func logMsg(level log.Level, msg string, args ...interface{}) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	var keyvals []interface{}
	if len(args) > 0 {
		if hasFmtVerb(msg) {
			msg = fmt.Sprintf(msg, args...)
		} else {
			keyvals = args
		}
	}

	switch level {
	case log.DebugLevel:
		l.Debug(msg, keyvals...)
	case log.InfoLevel:
		l.Info(msg, keyvals...)
	case log.WarnLevel:
		l.Warn(msg, keyvals...)
	case log.ErrorLevel:
		l.Error(msg, keyvals...)
	case log.FatalLevel:
		l.Fatal(msg, keyvals...)
	}
}

// L_debug logs at debug level.
func L_debug(msg string, args ...interface{}) {
	logMsg(log.DebugLevel, msg, args...)
}

// L_info logs at info level.
func L_info(msg string, args ...interface{}) {
	logMsg(log.InfoLevel, msg, args...)
}

// L_warn logs at warn level.
func L_warn(msg string, args ...interface{}) {
	logMsg(log.WarnLevel, msg, args...)
}

// L_error logs at error level.
func L_error(msg string, args ...interface{}) {
	logMsg(log.ErrorLevel, msg, args...)
}

// L_fatal logs at fatal level and exits.
func L_fatal(msg string, args ...interface{}) {
	logMsg(log.FatalLevel, msg, args...)
}

// L_elapsed logs at info level with the time elapsed since start appended.
func L_elapsed(start time.Time, msg string, args ...interface{}) {
	args = append(args, "elapsed", time.Since(start).Round(time.Millisecond).String())
	logMsg(log.InfoLevel, msg, args...)
}
