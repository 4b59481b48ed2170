// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"fmt"
	"io"
	"os"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only one line when a fit terminates
	LogLast LogLevel = 0
	// LogIter print also one line per SQP and penalty iteration
	LogIter LogLevel = 1
	// LogTrace print details of every QP solve: merits, improvement ratio and trust widths
	LogTrace LogLevel = 99
)

// Logger handles logging output for the optimizer.
// Note the writer must be thread-safe when shared by a Batch.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

// runLog tags every line of one fit with its run identifier.
type runLog struct {
	Logger
	run string
}

func (l *runLog) log(format string, a ...any) {
	_, _ = fmt.Fprintf(l.Msg, "[%s] "+format, append([]any{l.run}, a...)...)
}

func newLogger(logger *Logger) Logger {
	if logger == nil {
		return Logger{Level: LogNoop, Msg: io.Discard}
	}
	l := *logger
	if l.Msg == nil {
		l.Msg = os.Stdout
	}
	return l
}
