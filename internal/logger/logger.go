package logger

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

// Level orders the log labels from most to least severe.
type Level int32

const (
	LevelFatal Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

const (
	fatalLabel = "[FATAL] "
	errorLabel = "[ERROR] "
	warnLabel  = "[WARN ] "
	infoLabel  = "[INFO ] "
	debugLabel = "[DEBUG] "
)

var threshold atomic.Int32

func init() {
	threshold.Store(int32(LevelInfo))
}

// SetLevel drops every message less severe than l.
func SetLevel(l Level) {
	threshold.Store(int32(l))
}

// ParseLevel maps a configuration string to a Level. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fatal":
		return LevelFatal, nil
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func enabled(l Level) bool {
	return int32(l) <= threshold.Load()
}

// mylog prepends the level string to log.Printf.
// Arguments are handled in the manner of [fmt.Printf].
func mylog(level Level, label string, format string, args ...interface{}) {
	if !enabled(level) {
		return
	}
	log.Printf(label+format, args...)
}

// Fatal calls [log.Fatalf], adding a fatal label.
// Arguments are handled in the manner of [fmt.Printf].
func Fatal(format string, args ...interface{}) {
	log.Fatalf(fatalLabel+format, args...)
}

// Error prints to the standard logger, adding an error label.
// Arguments are handled in the manner of [fmt.Printf].
func Error(format string, args ...interface{}) {
	mylog(LevelError, errorLabel, format, args...)
}

// Warn prints to the standard logger, adding a warn label.
// Arguments are handled in the manner of [fmt.Printf].
func Warn(format string, args ...interface{}) {
	mylog(LevelWarn, warnLabel, format, args...)
}

// Info prints to the standard logger, adding an info label.
// Arguments are handled in the manner of [fmt.Printf].
func Info(format string, args ...interface{}) {
	mylog(LevelInfo, infoLabel, format, args...)
}

// Debug prints to the standard logger, adding a debug label.
// Arguments are handled in the manner of [fmt.Printf].
func Debug(format string, args ...interface{}) {
	mylog(LevelDebug, debugLabel, format, args...)
}

// Scoped prefixes every message with a fixed tag, such as a run ID.
type Scoped struct {
	prefix string
}

// With returns a Scoped logger whose lines start with "[tag] ".
func With(tag string) Scoped {
	return Scoped{prefix: "[" + tag + "] "}
}

func (s Scoped) Error(format string, args ...interface{}) { Error(s.prefix+format, args...) }
func (s Scoped) Warn(format string, args ...interface{})  { Warn(s.prefix+format, args...) }
func (s Scoped) Info(format string, args ...interface{})  { Info(s.prefix+format, args...) }
func (s Scoped) Debug(format string, args ...interface{}) { Debug(s.prefix+format, args...) }
