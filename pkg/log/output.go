package log

import (
	"io"
	"os"
	stdlog "log"
)

// ConsoleOutput writes formatted entries to stderr.
type ConsoleOutput struct {
	// Writer overrides the destination. Defaults to os.Stderr.
	Writer io.Writer
}

// Write implements Output.
func (o *ConsoleOutput) Write(_ *Entry, formatted []byte) error {
	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	_, err := w.Write(formatted)
	return err
}

// WriterOutput adapts any io.Writer into an Output.
type WriterOutput struct {
	W io.Writer
}

// Write implements Output.
func (o *WriterOutput) Write(_ *Entry, formatted []byte) error {
	_, err := o.W.Write(formatted)
	return err
}

// RedirectStdLog routes the stdlib "log" package (used by pebble and
// net/http) through the given logger at InfoLevel.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{logger})
}

type stdWriter struct{ logger Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	w.logger.Info(msg)
	return len(p), nil
}
