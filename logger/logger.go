// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package logger

import (
	"fmt"
	"io"
	"log"
)

// Logger collects messages on a channel and drains them to a writer in the
// background, so callers never block on a slow stderr.
type Logger struct {
	Prints  chan string
	verbose bool
}

func Init(out io.Writer, verbose bool) *Logger {
	l := &Logger{
		Prints:  make(chan string, 100),
		verbose: verbose,
	}
	go l.drain(out)
	return l
}

func (l *Logger) drain(out io.Writer) {
	sink := log.New(out, "", log.LstdFlags)
	for msg := range l.Prints {
		sink.Print(msg)
	}
}

func (l *Logger) Print(s string) {
	l.Prints <- s
}

func (l *Logger) Printf(s string, as ...interface{}) {
	l.Prints <- fmt.Sprintf(s, as...)
}

func (l *Logger) PrintError(source string, err error) {
	l.Printf("Error(%s) -> %s", source, err.Error())
}

// Verbosef logs only when verbose logging was requested at startup.
func (l *Logger) Verbosef(s string, as ...interface{}) {
	if l.verbose {
		l.Printf(s, as...)
	}
}
