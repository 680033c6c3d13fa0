package supervisor

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdproject/afd/internal/ipc"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestHandleCommandShutdownCancelsRun(t *testing.T) {
	s := New(Config{}, testLog())
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	s.handleCommand(ipc.CmdShutdown, ipc.NewReplyWriter(w))

	buf := make([]byte, 1)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, ipc.ReplyACK, buf[0])

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected cancel() to have been called")
	}
}

func TestHandleCommandReloadAcksWithoutCancelling(t *testing.T) {
	s := New(Config{}, testLog())
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	s.handleCommand(ipc.CmdReloadDirConfig, ipc.NewReplyWriter(w))

	buf := make([]byte, 1)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, ipc.ReplyACK, buf[0])

	select {
	case <-ctx.Done():
		t.Fatal("reload should not cancel Run")
	default:
	}
}

func TestHandleCommandUnknownRepliesError(t *testing.T) {
	s := New(Config{}, testLog())
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	s.handleCommand(ipc.Command('?'), ipc.NewReplyWriter(w))

	buf := make([]byte, 1)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, ipc.ReplyErrorGeneric, buf[0])
}

func TestStatusReportsNoChildrenBeforeRun(t *testing.T) {
	s := New(Config{}, testLog())
	assert.Empty(t, s.Status())
}
