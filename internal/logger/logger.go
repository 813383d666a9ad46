package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

var Logger *log.Logger

func init() {
	Logger = log.New(os.Stderr)
	Logger.SetReportTimestamp(true)

	// Set log level from environment variable
	SetLevel(os.Getenv("LOG_LEVEL"))
}

// SetLevel changes the level of the package logger. Unknown or empty names
// fall back to INFO.
func SetLevel(name string) {
	Logger.SetLevel(ParseLevel(name))
}

// ParseLevel maps a level name to a charmbracelet log level
func ParseLevel(name string) log.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return log.DebugLevel
	case "INFO":
		return log.InfoLevel
	case "WARN", "WARNING":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	case "FATAL":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// SetUINotifier routes log records to fn instead of stderr while a full
// screen UI owns the terminal. A nil fn restores stderr output.
func SetUINotifier(fn func(level, message string)) {
	if fn == nil {
		Logger.SetFormatter(log.TextFormatter)
		Logger.SetOutput(os.Stderr)
		return
	}
	Logger.SetFormatter(log.JSONFormatter)
	Logger.SetOutput(&notifyWriter{fn: fn})
}

// notifyWriter decodes the JSON records of the logger back into a level and
// a flat message.
type notifyWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	fn  func(level, message string)
}

func (w *notifyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err == io.EOF {
			// keep the partial record for the next write
			w.buf.Write(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

func (w *notifyWriter) emit(line []byte) {
	var rec map[string]interface{}
	if err := json.Unmarshal(line, &rec); err != nil {
		w.fn("info", strings.TrimSpace(string(line)))
		return
	}
	level, _ := rec["level"].(string)
	msg := fmt.Sprint(rec["msg"])
	delete(rec, "level")
	delete(rec, "msg")
	delete(rec, "time")

	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg += fmt.Sprintf(" %s=%v", k, rec[k])
	}
	w.fn(level, msg)
}

// Convenience functions for common operations
func Info(msg interface{}, keyvals ...interface{}) {
	Logger.Info(msg, keyvals...)
}

func Debug(msg interface{}, keyvals ...interface{}) {
	Logger.Debug(msg, keyvals...)
}

func Warn(msg interface{}, keyvals ...interface{}) {
	Logger.Warn(msg, keyvals...)
}

func Error(msg interface{}, keyvals ...interface{}) {
	Logger.Error(msg, keyvals...)
}

func Fatal(msg interface{}, keyvals ...interface{}) {
	Logger.Fatal(msg, keyvals...)
}

func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	Logger.Fatalf(format, args...)
}
