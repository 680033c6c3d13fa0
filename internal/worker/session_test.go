package worker

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdproject/afd/internal/ipc"
	"github.com/afdproject/afd/internal/translog"
)

func TestSessionBurstChainAcksAndResolvesFollowOnJob(t *testing.T) {
	dir := t.TempDir()
	adapter := newFakeAdapter()
	m := &Machine{Adapter: adapter, Log: testLog(), TransLog: translog.New(io.Discard), Lister: fixedLister{}}

	burstR, burstW, err := os.Pipe()
	require.NoError(t, err)
	ackR, ackW, err := os.Pipe()
	require.NoError(t, err)
	finR, finW, err := os.Pipe()
	require.NoError(t, err)
	defer func() {
		_ = burstR.Close()
		_ = burstW.Close()
		_ = ackR.Close()
		_ = ackW.Close()
		_ = finR.Close()
		_ = finW.Close()
	}()

	resolveCalls := 0
	s := &Session{
		Machine:       m,
		Log:           testLog(),
		BurstIn:       burstR,
		AckOut:        ackW,
		FinOut:        finW,
		KeepConnected: time.Second,
		Resolve: func(jobID, dirID uint32) (Job, error) {
			resolveCalls++
			return Job{JobID: jobID, RemoteDir: dir, LocalDir: dir}, nil
		},
	}

	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), Job{JobID: 1, RemoteDir: dir, LocalDir: dir})
		close(done)
	}()

	require.NoError(t, ipc.WriteBurstDescriptor(burstW, ipc.BurstDescriptor{JobID: 2, DirID: 1}))
	ack, err := ipc.ReadBurstACK(ackR)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ack.JobID)

	require.NoError(t, burstW.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish after burst channel closed")
	}

	fin, err := ipc.ReadFIN(finR)
	require.NoError(t, err)
	assert.Equal(t, int32(0), fin.ExitKind)
	assert.Equal(t, 1, resolveCalls)
}

func TestSessionReportsFinOnKeepConnectedTimeout(t *testing.T) {
	dir := t.TempDir()
	adapter := newFakeAdapter()
	m := &Machine{Adapter: adapter, Log: testLog(), TransLog: translog.New(io.Discard), Lister: fixedLister{}}

	burstR, burstW, err := os.Pipe()
	require.NoError(t, err)
	_, ackW, err := os.Pipe()
	require.NoError(t, err)
	finR, finW, err := os.Pipe()
	require.NoError(t, err)
	defer func() {
		_ = burstR.Close()
		_ = burstW.Close()
		_ = ackW.Close()
		_ = finR.Close()
	}()

	s := &Session{
		Machine:       m,
		Log:           testLog(),
		BurstIn:       burstR,
		AckOut:        ackW,
		FinOut:        finW,
		KeepConnected: 20 * time.Millisecond,
		Resolve:       func(jobID, dirID uint32) (Job, error) { return Job{}, nil },
	}

	s.Run(context.Background(), Job{JobID: 1, RemoteDir: dir, LocalDir: dir})
	_ = finW.Close()

	fin, err := ipc.ReadFIN(finR)
	require.NoError(t, err)
	assert.Equal(t, int32(0), fin.ExitKind)
}
