// Package daemonlog builds the shared logrus logger every AFD process
// (supervisor, amg, fd, archive scanner, worker) logs through, with one
// consistent field set so log/ lines from different components correlate.
package daemonlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields commonly attached to log lines; kept as named constants so
// components don't disagree on spelling.
const (
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldHost      = "host_alias"
	FieldDir       = "dir_alias"
	FieldJobID     = "job_id"
	FieldSign      = "sign"
)

// Options configures New.
type Options struct {
	Component string
	Debug     bool
	JSON      bool
	Output    io.Writer
}

// New returns a *logrus.Entry pre-populated with component and pid, ready
// to be passed down through a component's constructors.
func New(opts Options) *logrus.Entry {
	l := logrus.New()
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stderr)
	}
	if opts.Debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l.WithFields(logrus.Fields{
		FieldComponent: opts.Component,
		FieldPID:       os.Getpid(),
	})
}

// WithSign attaches the one-character transfer-log severity sign spec.md
// §7 requires on propagated errors.
func WithSign(e *logrus.Entry, sign byte) *logrus.Entry {
	return e.WithField(FieldSign, string(sign))
}
