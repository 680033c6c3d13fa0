package ipc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptCommandRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cmdPath := filepath.Join(dir, "cmd")
	replyPath := filepath.Join(dir, "reply")
	require.NoError(t, MakeFifo(cmdPath))
	require.NoError(t, MakeFifo(replyPath))

	go func() {
		w, err := os.OpenFile(cmdPath, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		defer w.Close()
		_ = WriteCommand(w, CmdRescan)
	}()

	// AcceptCommand opens the reply fifo for writing before it returns,
	// which blocks until a reader is present, so the reader starts first.
	readDone := make(chan byte, 1)
	go func() {
		r, err := os.OpenFile(replyPath, os.O_RDONLY, 0)
		if err != nil {
			return
		}
		defer r.Close()
		buf := make([]byte, 1)
		if _, err := r.Read(buf); err == nil {
			readDone <- buf[0]
		}
	}()

	cmd, reply, err := AcceptCommand(cmdPath, replyPath, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, CmdRescan, cmd)

	require.NoError(t, reply.Write(ReplyACK))
	require.NoError(t, reply.Close())

	select {
	case got := <-readDone:
		assert.Equal(t, ReplyACK, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply byte")
	}
}

func TestAcceptCommandTimesOutWhenNothingIsSent(t *testing.T) {
	dir := t.TempDir()
	cmdPath := filepath.Join(dir, "cmd")
	replyPath := filepath.Join(dir, "reply")
	require.NoError(t, MakeFifo(cmdPath))
	require.NoError(t, MakeFifo(replyPath))

	// hold a writer open so the blocking os.OpenFile(cmdPath, O_RDONLY)
	// returns immediately, then never send a byte before the deadline.
	// O_RDWR opens a fifo without waiting for a peer; a non-blocking
	// write-only open would fail here because no reader exists yet.
	w, err := os.OpenFile(cmdPath, os.O_RDWR, 0)
	require.NoError(t, err)
	defer w.Close()

	_, _, err = AcceptCommand(cmdPath, replyPath, 50*time.Millisecond)
	assert.Error(t, err)
}
