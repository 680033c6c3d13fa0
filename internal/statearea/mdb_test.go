package statearea

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueCodecRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mdb")
	require.NoError(t, Create(path, QueueCodec{}, 1, 4))

	a, err := Attach(path, QueueCodec{}, 1)
	require.NoError(t, err)
	defer a.Close()

	entries := []QueueEntry{
		{MsgNumber: 1, JobID: 7, Priority: '5', Live: 1, CreationTime: 100},
		{MsgNumber: 2, DirID: 3, PID: 42, SpecialFlags: 1, Priority: '0', Live: 1, CreationTime: 200, FSAPosition: 9},
	}
	require.NoError(t, a.PublishNew(entries))
	assert.Equal(t, 2, a.Count())

	got, err := a.Get(1)
	require.NoError(t, err)
	assert.Equal(t, entries[1], got)
}
