package archive

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketEpochMatchesScenarioS3(t *testing.T) {
	epoch := BucketEpoch(1000, 3600, 86400)
	assert.Equal(t, int64(0), epoch)
}

func TestBucketNameIsHexEpochUnderscoreHexJob(t *testing.T) {
	assert.Equal(t, "0_2a", BucketName(0, 42))
}

func TestStoreMovesFileIntoBucket(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	dest, err := Store(filepath.Join(dir, "archive"), "host1", "alice", 0, 0, 42, src, "report.csv")
	require.NoError(t, err)
	assert.FileExists(t, dest)
	assert.NoFileExists(t, src)
	assert.Equal(t, filepath.Join(dir, "archive", "host1", "alice", "0", "0_2a", "report.csv"), dest)
}

func TestStoreDefaultsUserToNone(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

	dest, err := Store(filepath.Join(dir, "archive"), "host1", "", 0, 0, 42, src, "report.csv")
	require.NoError(t, err)
	assert.Contains(t, dest, string(filepath.Separator)+"none"+string(filepath.Separator))
}

func TestStoreCompressedWritesGzippedCopyAndRemovesSrc(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(src, []byte("data,more data"), 0o644))

	dest, err := StoreCompressed(filepath.Join(dir, "archive"), "host1", "alice", 0, 0, 42, src, "report.csv")
	require.NoError(t, err)
	assert.Equal(t, "report.csv.gz", filepath.Base(dest))
	assert.NoFileExists(t, src)

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "data,more data", string(got))
}

func TestSweepRemovesExpiredBucketsOnly(t *testing.T) {
	root := t.TempDir()

	expiredDir := filepath.Join(root, "h1", "none", "0", BucketName(0, 1))
	liveDir := filepath.Join(root, "h1", "none", "0", BucketName(100000, 2))
	require.NoError(t, os.MkdirAll(expiredDir, 0o755))
	require.NoError(t, os.MkdirAll(liveDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(expiredDir, "f.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(liveDir, "f.txt"), []byte("x"), 0o644))

	stats, err := Sweep(root, 90000, 86400)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BucketsRemoved)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.NoDirExists(t, expiredDir)
	assert.DirExists(t, liveDir)
}

func TestSweepDoesNotRemoveBucketAtFourThousand(t *testing.T) {
	root := t.TempDir()
	bucket := filepath.Join(root, "h1", "none", "0", BucketName(0, 1))
	require.NoError(t, os.MkdirAll(bucket, 0o755))

	stats, err := Sweep(root, 4000, 86400)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.BucketsRemoved)
	assert.DirExists(t, bucket)
}

func TestSweepRemovesEmptyParentChain(t *testing.T) {
	root := t.TempDir()
	bucket := filepath.Join(root, "h1", "none", "0", BucketName(0, 1))
	require.NoError(t, os.MkdirAll(bucket, 0o755))

	_, err := Sweep(root, 90000, 86400)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(root, "h1"))
}
