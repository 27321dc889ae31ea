// Package monitoring holds the bridge's diagnostic logging hook.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger used across the bridge. It
// defaults to log.Printf; consumers embedding the library (and tests that
// want quiet output) replace it with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op so
// callers can mute diagnostics entirely.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Capture installs a logger that collects formatted lines and returns the
// collector plus a restore function. Test helper; the collector is safe for
// concurrent logging.
func Capture() (lines *Lines, restore func()) {
	prev := Logf
	lines = &Lines{}
	Logf = lines.add
	return lines, func() { Logf = prev }
}

// Lines is a concurrency-safe collector of captured log lines.
type Lines struct {
	mu    sync.Mutex
	lines []string
}

func (l *Lines) add(format string, v ...interface{}) {
	l.mu.Lock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
	l.mu.Unlock()
}

// All returns a copy of the captured lines.
func (l *Lines) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
