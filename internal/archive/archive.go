// Package archive implements the archive/retention pipeline spec.md
// §4.G describes: moving successfully-sent files into a time-bucketed
// hierarchy, and a separate long-lived scanner that removes buckets
// whose retention window has expired.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/afdproject/afd/internal/errkind"
)

// BucketEpoch computes the bucket's epoch (spec.md §3 invariant 4):
// creationTime+retentionSeconds rounded down to a multiple of
// stepSeconds, so all files archived together share one epoch and a
// scanner never needs to inspect a bucket's contents to decide whether
// it has expired. Sweep removes the bucket once epoch+stepSeconds has
// passed.
func BucketEpoch(creationTime, retentionSeconds, stepSeconds int64) int64 {
	if stepSeconds <= 0 {
		stepSeconds = 1
	}
	return ((creationTime + retentionSeconds) / stepSeconds) * stepSeconds
}

// BucketName renders the directory name spec.md §6 names:
// "<epoch-hex>_<job-hex>".
func BucketName(epoch int64, jobID uint32) string {
	return fmt.Sprintf("%x_%x", epoch, jobID)
}

// Path builds the full destination path for one archived file (spec.md
// §6: "archive/[fs-id/]<hostalias>/<user|'none'>/<dir-number-hex>/<epoch-hex>_<job-hex>/<filename>").
func Path(root, hostAlias, user string, dirNumber int, epoch int64, jobID uint32, filename string) string {
	if user == "" {
		user = "none"
	}
	return filepath.Join(root, hostAlias, user, strconv.FormatInt(int64(dirNumber), 16),
		BucketName(epoch, jobID), filename)
}

// MaxLinksPerDir bounds how many bucket entries one <dir-number> holds
// before a new one is allocated, standing in for the EMLINK condition a
// real filesystem's hard-link-count ceiling would raise on its parent
// directory entry.
const MaxLinksPerDir = 32000

// Store moves src into the archive hierarchy under root. When the rename
// fails (EEXIST included), it checks the bucket directory's entry count:
// at MaxLinksPerDir, the EMLINK-style "too many entries under this
// dir-number" condition, it retries under the next dir-number; otherwise
// the rename error is returned.
func Store(root, hostAlias, user string, dirNumber int, epoch int64, jobID uint32, src, filename string) (string, error) {
	for {
		dest := Path(root, hostAlias, user, dirNumber, epoch, jobID, filename)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", errkind.New(errkind.LocalIO, "archive.mkdir", err)
		}
		err := os.Rename(src, dest)
		if err == nil {
			return dest, nil
		}
		if os.IsExist(err) {
			// another worker's file occupies this exact name already;
			// archived names are unique per job+file so this only
			// happens on a retried transfer — fall through to a link
			// count check rather than overwriting.
		}
		full, lerr := tooManyEntries(filepath.Dir(dest))
		if lerr != nil {
			return "", errkind.New(errkind.LocalIO, "archive.rename", err)
		}
		if !full {
			return "", errkind.New(errkind.LocalIO, "archive.rename", err)
		}
		dirNumber++
	}
}

// StoreCompressed is Store's counterpart for recipients whose DIR_CONFIG
// options ask for compressed archive copies: it gzips src into place
// under the same bucket layout instead of renaming it, appending ".gz"
// to the archived name, and removes src once the copy is flushed. The
// dir-number retry loop follows Store's, but is entered only when the
// write fails with EEXIST; any other write error is returned.
func StoreCompressed(root, hostAlias, user string, dirNumber int, epoch int64, jobID uint32, src, filename string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", errkind.New(errkind.LocalIO, "archive.compress_open", err)
	}
	defer in.Close()

	for {
		dest := Path(root, hostAlias, user, dirNumber, epoch, jobID, filename+".gz")
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", errkind.New(errkind.LocalIO, "archive.mkdir", err)
		}
		err := writeGzip(dest, in)
		if err == nil {
			_ = os.Remove(src)
			return dest, nil
		}
		if !os.IsExist(err) {
			return "", errkind.New(errkind.LocalIO, "archive.compress_write", err)
		}
		full, lerr := tooManyEntries(filepath.Dir(dest))
		if lerr != nil || !full {
			return "", errkind.New(errkind.LocalIO, "archive.compress_write", err)
		}
		dirNumber++
		if _, serr := in.Seek(0, io.SeekStart); serr != nil {
			return "", errkind.New(errkind.LocalIO, "archive.compress_seek", serr)
		}
	}
}

// writeGzip streams src into a new gzip-compressed file at dest,
// refusing to clobber an existing bucket entry (the EEXIST branch
// Store also relies on to detect a racing worker).
func writeGzip(dest string, src io.ReadSeeker) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	_, copyErr := io.Copy(zw, src)
	closeErr := zw.Close()
	syncErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	return syncErr
}

func tooManyEntries(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) >= MaxLinksPerDir, nil
}

// BucketInfo is one parsed leaf directory under
// root/*/*/*/<bucket-name>/.
type BucketInfo struct {
	Path  string
	Epoch int64
	JobID uint32
}

// parseBucketName extracts the epoch and job-id from a bucket directory
// name of the form "<epoch-hex>_<job-hex>"; names that don't match are
// skipped by the scanner rather than treated as corruption, since an
// operator may have dropped unrelated directories under the archive
// root.
func parseBucketName(name string) (int64, uint32, bool) {
	i := strings.IndexByte(name, '_')
	if i < 0 {
		return 0, 0, false
	}
	epoch, err := strconv.ParseInt(name[:i], 16, 64)
	if err != nil {
		return 0, 0, false
	}
	job, err := strconv.ParseUint(name[i+1:], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return epoch, uint32(job), true
}

// Walk visits every bucket directory under root/*/*/*/ (the fixed
// hostalias/user/dir-number nesting spec.md §6 names) without following
// symlinks at the root, matching spec.md §4.G's "multi-FS layouts use
// the root link deliberately" note.
func Walk(root string, visit func(BucketInfo) error) error {
	hosts, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.New(errkind.LocalIO, "archive.walk", err)
	}
	for _, host := range hosts {
		if !host.IsDir() {
			continue
		}
		hostPath := filepath.Join(root, host.Name())
		users, err := os.ReadDir(hostPath)
		if err != nil {
			continue
		}
		for _, user := range users {
			userPath := filepath.Join(hostPath, user.Name())
			dirNums, err := os.ReadDir(userPath)
			if err != nil {
				continue
			}
			for _, dn := range dirNums {
				dirPath := filepath.Join(userPath, dn.Name())
				buckets, err := os.ReadDir(dirPath)
				if err != nil {
					continue
				}
				for _, b := range buckets {
					epoch, jobID, ok := parseBucketName(b.Name())
					if !ok {
						continue
					}
					if err := visit(BucketInfo{Path: filepath.Join(dirPath, b.Name()), Epoch: epoch, JobID: jobID}); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// Stats accumulates one scan pass's removals for the per-hour reporting
// spec.md §4.G names.
type Stats struct {
	BucketsRemoved int
	FilesRemoved   int
}

// Sweep removes every bucket under root whose retention window — the
// stepSeconds-wide interval starting at its epoch — has fully elapsed by
// nowUnix, then removes now-empty parent chains bottom-up. A bucket's
// epoch is only the start of its last possible step, not its removal
// time (see BucketEpoch); it survives until epoch+stepSeconds.
func Sweep(root string, nowUnix, stepSeconds int64) (Stats, error) {
	if stepSeconds <= 0 {
		stepSeconds = 1
	}
	var stats Stats
	var expired []BucketInfo
	err := Walk(root, func(b BucketInfo) error {
		if b.Epoch+stepSeconds <= nowUnix {
			expired = append(expired, b)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	for _, b := range expired {
		files, err := os.ReadDir(b.Path)
		if err == nil {
			stats.FilesRemoved += len(files)
		}
		if err := os.RemoveAll(b.Path); err != nil {
			return stats, errkind.New(errkind.LocalIO, "archive.remove_bucket", err)
		}
		stats.BucketsRemoved++
		removeEmptyChain(filepath.Dir(b.Path), root)
	}
	return stats, nil
}

// removeEmptyChain removes dir and its ancestors, stopping at root or the
// first non-empty directory, implementing spec.md §4.G's "removes empty
// parent chains bottom-up".
func removeEmptyChain(dir, root string) {
	root = filepath.Clean(root)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !strings.HasPrefix(dir, root) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
