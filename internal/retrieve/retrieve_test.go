package retrieve

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOnceOnlyFetchesOnlyNewNamesScenarioS4(t *testing.T) {
	s := New("unused", ModeGetOnceOnly)

	first := s.Reconcile([]Entry{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	assert.Len(t, first, 3)

	second := s.Reconcile([]Entry{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}})
	require.Len(t, second, 1)
	assert.Equal(t, "d", second[0].Name)
}

func TestGetOnceNotExactComparesByBaseName(t *testing.T) {
	s := New("unused", ModeGetOnceNotExact)
	s.Reconcile([]Entry{{Name: "2024/report.csv"}})

	fetch := s.Reconcile([]Entry{{Name: "2025/report.csv"}})
	assert.Empty(t, fetch)
}

func TestModeYesRefetchesEverythingEveryScan(t *testing.T) {
	s := New("unused", ModeYes)
	s.Reconcile([]Entry{{Name: "a"}})

	second := s.Reconcile([]Entry{{Name: "a"}})
	assert.Len(t, second, 1)
}

func TestAppendOnlyRefetchesOnlyGrownSuffix(t *testing.T) {
	s := New("unused", ModeAppendOnly)
	s.Reconcile([]Entry{{Name: "log.txt", Size: 100}})

	fetch := s.Reconcile([]Entry{{Name: "log.txt", Size: 150}})
	require.Len(t, fetch, 1)
	assert.Equal(t, int64(50), fetch[0].Size)

	fetch = s.Reconcile([]Entry{{Name: "log.txt", Size: 150}})
	assert.Empty(t, fetch)
}

func TestAcquireRejectsDoubleCheckout(t *testing.T) {
	s := New("unused", ModeNo)
	s.Reconcile([]Entry{{Name: "a"}})

	assert.True(t, s.Acquire("a"))
	assert.False(t, s.Acquire("a"))
}

func TestTransitionFailedReturnsToNew(t *testing.T) {
	s := New("unused", ModeNo)
	s.Reconcile([]Entry{{Name: "a"}})
	s.Acquire("a")
	s.TransitionFailed("a")

	assert.True(t, s.Acquire("a"))
}

func TestSaveLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ls_data", "host1")

	s := New(path, ModeGetOnceOnly)
	s.Reconcile([]Entry{{Name: "a", Size: 10, Mtime: time.Unix(1000, 0)}})
	s.TransitionStored("a")
	require.NoError(t, s.Save())

	reloaded, err := Load(path, ModeGetOnceOnly)
	require.NoError(t, err)
	snap := reloaded.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].Name)
	assert.Equal(t, StateStored, snap[0].State)
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent"), ModeNo)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot())
}

func TestMarkStaleZeroesStoredMtime(t *testing.T) {
	s := New("unused", ModeNo)
	s.Reconcile([]Entry{{Name: "a", Mtime: time.Unix(500, 0)}})
	s.TransitionStored("a")

	s.MarkStale()
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].Mtime.IsZero())
}
