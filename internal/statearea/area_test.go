package statearea

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdproject/afd/internal/errkind"
)

func newHost(alias string) Host {
	var h Host
	h.SetAlias(alias)
	h.MaxParallel = 2
	return h
}

func TestAttachCreateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fsa")
	require.NoError(t, Create(path, HostCodec{}, 1, 4))

	a, err := Attach(path, HostCodec{}, 1)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 0, a.Count())
}

func TestSchemaMismatchRefusesToAttach(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fsa")
	require.NoError(t, Create(path, HostCodec{}, 1, 4))

	_, err := Attach(path, HostCodec{}, 2)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.StateCorruption))
}

func TestPublishNewMarksOldStaleAndReattachSeesNewData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fsa")
	require.NoError(t, Create(path, HostCodec{}, 1, 4))

	a, err := Attach(path, HostCodec{}, 1)
	require.NoError(t, err)

	require.NoError(t, a.PublishNew([]Host{newHost("hostA"), newHost("hostB")}))
	assert.True(t, a.IsStale())

	b, err := a.Reattach()
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 2, b.Count())
	pos, err := b.LookupBy(func(h Host) bool { return h.GetAlias() == "hostB" })
	require.NoError(t, err)
	v, err := b.Get(pos)
	require.NoError(t, err)
	assert.Equal(t, "hostB", v.GetAlias())
}

func TestLookupByNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fsa")
	require.NoError(t, Create(path, HostCodec{}, 1, 4))
	a, err := Attach(path, HostCodec{}, 1)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.LookupBy(func(h Host) bool { return h.GetAlias() == "missing" })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHostToggle(t *testing.T) {
	var h Host
	clearAndCopy(h.RealHostName1[:], "a.example.com")
	clearAndCopy(h.RealHostName2[:], "b.example.com")
	assert.Equal(t, "a.example.com", h.ActiveRealHostName())
	h.Toggle()
	assert.Equal(t, "b.example.com", h.ActiveRealHostName())
	h.Toggle()
	assert.Equal(t, "a.example.com", h.ActiveRealHostName())
}

func TestFileMaskPatternRoundTrip(t *testing.T) {
	var fm FileMask
	fm.SetPatterns([]string{"*.dat", "*.wmo", "report_*"})
	assert.Equal(t, []string{"*.dat", "*.wmo", "report_*"}, fm.PatternStrings())
}
