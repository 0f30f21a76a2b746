// Package lalog is a small structured logger: a Logger carries a component
// name plus a set of ID fields (e.g. activity ID, sequence number) so every
// line can be traced back to its run without pulling in a third-party
// logging framework.
package lalog

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"unicode"

	"github.com/guestpatch/patchcore/internal/datastruct"
)

const (
	// MaxLogMessageLen is the maximum length retained for each log line kept in memory.
	MaxLogMessageLen = 4096
	truncatedLabel   = "...(truncated)..."
)

// LatestLogs retains the most recent log lines across the whole process,
// primarily so a final status/report can include recent diagnostic context.
var LatestLogs = datastruct.NewRingBuffer(4096)

// IDField is one key-value pair identifying the origin of a Logger instance (e.g. ActivityID, Sequence).
type IDField struct {
	Key   string
	Value interface{}
}

// Logger formats and prints log messages in a regular, greppable format.
type Logger struct {
	ComponentName string
	ComponentID   []IDField
}

func (l *Logger) componentIDString() string {
	if len(l.ComponentID) == 0 {
		return ""
	}
	var buf bytes.Buffer
	buf.WriteRune('[')
	for i, f := range l.ComponentID {
		buf.WriteString(fmt.Sprintf("%s=%v", f.Key, f.Value))
		if i < len(l.ComponentID)-1 {
			buf.WriteRune(';')
		}
	}
	buf.WriteRune(']')
	return buf.String()
}

// Format renders a log message without printing it, in the shape:
// ComponentName[IDKey=IDVal].FuncName(actor): Error "cause" - message
func (l *Logger) Format(funcName string, actor interface{}, err error, template string, values ...interface{}) string {
	var msg bytes.Buffer
	if l.ComponentName != "" {
		msg.WriteString(l.ComponentName)
	}
	msg.WriteString(l.componentIDString())
	if funcName != "" {
		if msg.Len() > 0 {
			msg.WriteRune('.')
		}
		msg.WriteString(funcName)
	}
	if actor != nil && actor != "" {
		msg.WriteString(fmt.Sprintf("(%v)", actor))
	}
	if msg.Len() > 0 {
		msg.WriteString(": ")
	}
	if err != nil {
		msg.WriteString(fmt.Sprintf("Error %q", err.Error()))
		if template != "" {
			msg.WriteString(" - ")
		}
	}
	msg.WriteString(fmt.Sprintf(template, values...))
	return LintString(TruncateString(msg.String(), MaxLogMessageLen), MaxLogMessageLen)
}

// Info prints an informational log message. If err is non-nil its text is
// included in the message, which is still logged without the WARN prefix.
func (l *Logger) Info(funcName string, actor interface{}, err error, template string, values ...interface{}) {
	msg := l.Format(funcName, actor, err, template, values...)
	log.Print(msg)
	LatestLogs.Push(msg)
}

// Warning prints a warning-level log message.
func (l *Logger) Warning(funcName string, actor interface{}, err error, template string, values ...interface{}) {
	msg := l.Format(funcName, actor, err, template, values...)
	log.Print("WARN " + msg)
	LatestLogs.Push("WARN " + msg)
}

// Abort prints a log message and then terminates the process. It is reserved
// for conditions the core genuinely cannot continue past (e.g. missing
// environment descriptor).
func (l *Logger) Abort(funcName string, actor interface{}, err error, template string, values ...interface{}) {
	log.Fatal(l.Format(funcName, actor, err, template, values...))
}

// DefaultLogger is used where a dedicated, component-scoped Logger has not been constructed yet.
var DefaultLogger = &Logger{ComponentName: "patchcore", ComponentID: []IDField{{Key: "PID", Value: os.Getpid()}}}

// TruncateString returns in unchanged if it fits within maxLength, otherwise
// removes text from the middle and substitutes a truncation marker.
func TruncateString(in string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}
	if len(in) <= maxLength {
		return in
	}
	if maxLength <= len(truncatedLabel) {
		return in[:maxLength]
	}
	firstHalfEnd := maxLength/2 - len(truncatedLabel)/2
	secondHalfBegin := len(in) - (maxLength / 2) + len(truncatedLabel)/2
	if maxLength%2 == 0 {
		secondHalfBegin++
	}
	var out bytes.Buffer
	out.WriteString(in[:firstHalfEnd])
	out.WriteString(truncatedLabel)
	out.WriteString(in[secondHalfBegin:])
	return out.String()
}

// LintString replaces unprintable characters with underscores and stops at the character that starts at byte offset maxLength of in.
func LintString(in string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}
	var out bytes.Buffer
	for i, r := range in {
		if i >= maxLength {
			break
		}
		if (r >= 0 && r <= 8) || (r >= 14 && r <= 31) || r >= 127 || (!unicode.IsPrint(r) && !unicode.IsSpace(r)) {
			out.WriteRune('_')
		} else {
			out.WriteRune(r)
		}
	}
	return out.String()
}
