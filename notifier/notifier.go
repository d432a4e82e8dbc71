// Package notifier is the process-wide sink for detailed database error
// records. Every engine failure observed by a Handle is forwarded here,
// regardless of whether the operation which produced it treated the failure
// as fatal. This separates "should this abort my operation" (the error
// returned to the caller) from "should this be observable for diagnostics"
// (the record delivered to registered sinks).
package notifier

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Level classifies the severity of an Error record.
type Level int

const (
	// LevelIgnore marks a failure which the producing operation was
	// configured to tolerate. It is still forwarded for diagnostics.
	LevelIgnore Level = iota
	// LevelError marks a failure surfaced to the operation's caller.
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelIgnore:
		return "ignore"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Error is a detailed record of a single engine failure.
type Error struct {
	// Code is the engine's primary result code.
	Code int
	// ExtendedCode is the engine's extended result code, where trustworthy.
	// It's left zero for misuse-class failures, as the engine does not
	// guarantee an extended code is set for them.
	ExtendedCode int
	// Message is the engine's human-readable description.
	Message string
	// Level is the record's severity.
	Level Level
	// Infos carries free-form diagnostic context, such as the database
	// path and the SQL text which produced the failure.
	Infos map[string]string
}

// NewError returns an Error with the given codes and message.
func NewError(code, extendedCode int, message string) *Error {
	return &Error{
		Code:         code,
		ExtendedCode: extendedCode,
		Message:      message,
		Infos:        make(map[string]string),
	}
}

// WithInfo attaches a diagnostic key/value to the Error, returning it.
func (e *Error) WithInfo(key, value string) *Error {
	e.Infos[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] code %d", e.Level, e.Code)
	if e.ExtendedCode != 0 && e.ExtendedCode != e.Code {
		fmt.Fprintf(&b, " (extended %d)", e.ExtendedCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	var keys = make([]string, 0, len(e.Infos))
	for k := range e.Infos {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ", %s: %q", k, e.Infos[k])
	}
	return b.String()
}

// A Sink receives every notified Error record.
type Sink func(*Error)

type namedSink struct {
	name string
	sink Sink
}

var shared = struct {
	mu    sync.RWMutex
	sinks []namedSink
}{}

// Register adds (or replaces, by name) a Sink. Sinks are invoked in
// registration order; replacing a Sink keeps its position.
func Register(name string, sink Sink) {
	shared.mu.Lock()
	defer shared.mu.Unlock()

	for i := range shared.sinks {
		if shared.sinks[i].name == name {
			shared.sinks[i].sink = sink
			return
		}
	}
	shared.sinks = append(shared.sinks, namedSink{name: name, sink: sink})
}

// Unregister removes the named Sink, if present.
func Unregister(name string) {
	shared.mu.Lock()
	defer shared.mu.Unlock()

	for i := range shared.sinks {
		if shared.sinks[i].name == name {
			shared.sinks = append(shared.sinks[:i], shared.sinks[i+1:]...)
			return
		}
	}
}

// Notify forwards the Error to every registered Sink.
func Notify(e *Error) {
	shared.mu.RLock()
	var sinks = make([]namedSink, len(shared.sinks))
	copy(sinks, shared.sinks)
	shared.mu.RUnlock()

	for _, s := range sinks {
		s.sink(e)
	}
}

func logSink(e *Error) {
	var fields = log.Fields{
		"code": e.Code,
	}
	if e.ExtendedCode != 0 {
		fields["extendedCode"] = e.ExtendedCode
	}
	for k, v := range e.Infos {
		fields[k] = v
	}
	if e.Level == LevelIgnore {
		log.WithFields(fields).Debug(e.Message)
	} else {
		log.WithFields(fields).Error(e.Message)
	}
}

func init() {
	// Default sink. Unregister "log" to silence it.
	Register("log", logSink)
}
