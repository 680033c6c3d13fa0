// Package translog writes the per-transfer audit trail spec.md §7 names:
// one line per completed or failed file, carrying a one-character
// severity sign (internal/daemonlog.WithSign) so an operator can grep
// the stream for anything worse than a plain completion. This is a
// logrus field on its own logger writing to its own stream, not a
// parallel logging format: every AFD process logs through logrus, and
// the transfer log is simply a second logrus.Logger pointed at a
// different writer so per-file volume doesn't interleave with the
// daemon's operational log.
package translog

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/afdproject/afd/internal/daemonlog"
	"github.com/afdproject/afd/internal/errkind"
)

// Logger appends severity-signed transfer lines to an underlying writer.
type Logger struct {
	entry *logrus.Entry
}

// New wraps w (typically an append-mode *os.File rotated externally) as
// a transfer-log Logger. Passing nil uses os.Stdout.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	return &Logger{entry: logrus.NewEntry(l)}
}

// Success records one file transferred cleanly.
func (l *Logger) Success(hostAlias, dirAlias, fileName string, bytes int64, jobID uint32) {
	daemonlog.WithSign(l.entry, '=').WithFields(logrus.Fields{
		daemonlog.FieldHost:  hostAlias,
		daemonlog.FieldDir:   dirAlias,
		"file":               fileName,
		"bytes":              bytes,
		daemonlog.FieldJobID: jobID,
	}).Info("transfer complete")
}

// Failure records one file failed, tagging the line with errkind's
// one-character severity sign (spec.md §7 "mapped ... to a transfer log
// line with a one-character severity sign").
func (l *Logger) Failure(hostAlias, dirAlias, fileName string, jobID uint32, kind errkind.Kind, cause error) {
	entry := daemonlog.WithSign(l.entry, kind.Sign()).WithFields(logrus.Fields{
		daemonlog.FieldHost:  hostAlias,
		daemonlog.FieldDir:   dirAlias,
		"file":               fileName,
		daemonlog.FieldJobID: jobID,
		"kind":               kind.String(),
	})
	if cause != nil {
		entry = entry.WithError(cause)
	}
	if kind == errkind.StateCorruption || kind == errkind.Auth || kind == errkind.ProtocolBug {
		entry.Error("transfer failed")
		return
	}
	entry.Warn("transfer failed")
}

// Retry records a retryable failure before the scheduler's backoff
// re-dispatches the file, distinct from Failure's terminal-for-this-file
// outcome.
func (l *Logger) Retry(hostAlias, dirAlias, fileName string, jobID uint32, attempt int, delay time.Duration) {
	daemonlog.WithSign(l.entry, '-').WithFields(logrus.Fields{
		daemonlog.FieldHost:  hostAlias,
		daemonlog.FieldDir:   dirAlias,
		"file":               fileName,
		daemonlog.FieldJobID: jobID,
		"attempt":            attempt,
		"retry_in":           delay.String(),
	}).Info("transfer retry scheduled")
}
