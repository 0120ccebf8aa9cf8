// Package logger is the process-wide levelled logger.
//
// Call sites use printf-style helpers (Debug, Info, Warn, Error). The
// backend is logrus, configured once at startup with Configure. A bounded
// ring of recent lines is kept in memory so the mount can expose it as a
// pseudo-file.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// DefaultRecentLines is the number of lines retained by Recent.
const DefaultRecentLines = 200

var (
	mu     sync.RWMutex
	base   = newBase()
	recent = newRing(DefaultRecentLines)
	closer io.Closer
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel converts DEBUG, INFO, WARN or ERROR (any case) to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLevel changes the minimum level. Unknown values are ignored.
func SetLevel(level string) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return
	}
	mu.Lock()
	base.SetLevel(lvl.logrus())
	mu.Unlock()
}

// Options selects level, format and destination.
type Options struct {
	// Level is DEBUG, INFO, WARN or ERROR.
	Level string

	// Format is "text" or "json".
	Format string

	// Output is "stdout", "stderr" or a file path. Files are rotated.
	Output string

	// MaxSizeMB, MaxBackups and Compress tune file rotation.
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Configure replaces the backend according to opts.
func Configure(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	l := logrus.New()
	l.SetLevel(lvl.logrus())

	switch strings.ToLower(opts.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return fmt.Errorf("unknown log format %q", opts.Format)
	}

	var newCloser io.Closer
	switch strings.ToLower(opts.Output) {
	case "", "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.Output,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
			Compress:   opts.Compress,
			LocalTime:  true,
		}
		l.SetOutput(rotator)
		newCloser = rotator
	}

	mu.Lock()
	old := closer
	base = l
	closer = newCloser
	mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close releases the file output, if any.
func Close() error {
	mu.Lock()
	c := closer
	closer = nil
	base.SetOutput(os.Stdout)
	mu.Unlock()

	if c != nil {
		return c.Close()
	}
	return nil
}

// SetOutput redirects the backend. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	base.SetOutput(w)
	mu.Unlock()
}

// Recent returns up to the last DefaultRecentLines log lines, oldest first.
func Recent() []string {
	return recent.snapshot()
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	l := base
	mu.RUnlock()

	if !l.IsLevelEnabled(level.logrus()) {
		return
	}

	message := fmt.Sprintf(format, v...)
	recent.add(fmt.Sprintf("[%s] [%s] %s", time.Now().Format("2006-01-02 15:04:05"), level, message))

	switch level {
	case LevelDebug:
		l.Debug(message)
	case LevelInfo:
		l.Info(message)
	case LevelWarn:
		l.Warn(message)
	case LevelError:
		l.Error(message)
	}
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}

// ring is a fixed-size buffer of formatted lines.
type ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newRing(size int) *ring {
	return &ring{lines: make([]string, size)}
}

func (r *ring) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]string, r.next)
		copy(out, r.lines[:r.next])
		return out
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return out
}
