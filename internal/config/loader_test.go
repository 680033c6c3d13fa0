package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdproject/afd/internal/daemonlog"
	"github.com/afdproject/afd/internal/statearea"
)

type fakeReindexer struct {
	frozen, reindexed, resumed int
}

func (f *fakeReindexer) FreezeAdmissions()  { f.frozen++ }
func (f *fakeReindexer) Reindex() error     { f.reindexed++; return nil }
func (f *fakeReindexer) ResumeAdmissions() { f.resumed++ }

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoaderLoadAndPublish(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "dir_config", sampleConfig)

	stateDir := t.TempDir()
	loader := NewLoader(Paths{FSADir: stateDir}, daemonlog.New(daemonlog.Options{Component: "amg"}))

	b, err := loader.Load([]string{cfgPath})
	require.NoError(t, err)
	assert.Len(t, b.dirs, 1)
	assert.Len(t, b.jobs, 2)
	assert.Len(t, b.hosts, 2)

	rx := &fakeReindexer{}
	require.NoError(t, loader.Publish(b, rx))
	assert.Equal(t, 1, rx.frozen)
	assert.Equal(t, 1, rx.reindexed)
	assert.Equal(t, 1, rx.resumed)

	fsa, err := statearea.Attach(filepath.Join(stateDir, "fsa"), statearea.HostCodec{}, SchemaVersion)
	require.NoError(t, err)
	defer fsa.Close()
	assert.Equal(t, 2, fsa.Count())
}

// TestLoaderIdempotent establishes spec.md §8 property 7 at the loader
// level: loading the same DIR_CONFIG twice produces identical candidate
// generations.
func TestLoaderIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "dir_config", sampleConfig)
	loader := NewLoader(Paths{FSADir: t.TempDir()}, daemonlog.New(daemonlog.Options{Component: "amg"}))

	b1, err := loader.Load([]string{cfgPath})
	require.NoError(t, err)
	b2, err := loader.Load([]string{cfgPath})
	require.NoError(t, err)

	require.Len(t, b1.jobs, len(b2.jobs))
	for i := range b1.jobs {
		assert.Equal(t, b1.jobs[i].JobID, b2.jobs[i].JobID)
	}
	require.Len(t, b1.dirs, len(b2.dirs))
	assert.Equal(t, b1.dirs[0].DirID, b2.dirs[0].DirID)
}

func TestLoaderRejectsRecipientWithoutHost(t *testing.T) {
	dir := t.TempDir()
	const bad = `
[dir]
alias = a
path = /x
[recipient]
url = not-a-url
`
	cfgPath := writeConfig(t, dir, "dir_config", bad)
	loader := NewLoader(Paths{FSADir: t.TempDir()}, daemonlog.New(daemonlog.Options{Component: "amg"}))
	_, err := loader.Load([]string{cfgPath})
	assert.Error(t, err)
}
