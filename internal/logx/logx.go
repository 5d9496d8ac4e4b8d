// Package logx is a thin verbosity gate over the standard log package.
// Components log as log.Printf("[component] ...") lines; logx decides which
// levels reach the log based on the -v count, and lets --debug-ws/--debug-gql
// force single components to Debug.
package logx

import (
	"log"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Level is an ascending verbosity level. Error is always emitted.
type Level int32

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	// LevelCall traces outbound GQL/WS traffic; sits between Info and Debug.
	LevelCall
	LevelDebug
)

var (
	level     atomic.Int32
	overrides = xsync.NewMapOf[string, Level]()
)

// SetLevel sets the global verbosity. The -v count maps directly:
// 0=Error, 1=Warning, 2=Info, 3=Call, 4+=Debug.
func SetLevel(l Level) {
	if l > LevelDebug {
		l = LevelDebug
	}
	if l < LevelError {
		l = LevelError
	}
	level.Store(int32(l))
}

// ForceDebug pins a single component to Debug regardless of the global level.
func ForceDebug(component string) {
	overrides.Store(component, LevelDebug)
}

func enabled(component string, l Level) bool {
	if ov, ok := overrides.Load(component); ok && l <= ov {
		return true
	}
	return l <= Level(level.Load())
}

func emit(component, format string, args ...any) {
	log.Printf("["+component+"] "+format, args...)
}

// Errorf logs unconditionally.
func Errorf(component, format string, args ...any) {
	emit(component, format, args...)
}

func Warnf(component, format string, args ...any) {
	if enabled(component, LevelWarning) {
		emit(component, format, args...)
	}
}

func Infof(component, format string, args ...any) {
	if enabled(component, LevelInfo) {
		emit(component, format, args...)
	}
}

// Callf traces request/response traffic.
func Callf(component, format string, args ...any) {
	if enabled(component, LevelCall) {
		emit(component, format, args...)
	}
}

func Debugf(component, format string, args ...any) {
	if enabled(component, LevelDebug) {
		emit(component, format, args...)
	}
}
