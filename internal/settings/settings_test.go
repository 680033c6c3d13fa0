package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "afd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_errors: 5\nabort_timeout: 30s\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint(5), s.MaxErrors)
	assert.Equal(t, 30*time.Second, s.AbortTimeout)
	assert.Equal(t, Default().FSADir, s.FSADir)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "afd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_errors: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
