// Package rvlog is a minimal leveled logger built on the standard
// library's log package, matching the driver-level log.Printf and
// log.Fatalf calls a compiler-pass CLI typically uses. See DESIGN.md
// for why this one ambient concern stays on the standard library.
package rvlog

import (
	"log"
	"os"
)

type Level int

const (
	LevelSilent Level = iota
	LevelInfo
	LevelVerbose
)

// Logger writes leveled log lines for cmd/rvc, lib/builder and
// lib/callgraph; LevelVerbose adds their extra trace lines.
type Logger struct {
	level Level
	std   *log.Logger
}

func New(level Level) *Logger {
	return &Logger{level: level, std: log.New(os.Stderr, "rv: ", 0)}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level >= LevelInfo {
		l.std.Printf(format, args...)
	}
}

func (l *Logger) Verbosef(format string, args ...interface{}) {
	if l.level >= LevelVerbose {
		l.std.Printf(format, args...)
	}
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.std.Fatalf(format, args...)
}
