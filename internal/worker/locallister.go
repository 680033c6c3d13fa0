package worker

import (
	"os"
	"path/filepath"

	"github.com/afdproject/afd/internal/errkind"
)

// DirLister lists regular files directly inside a directory, applying
// shell glob filters the way a DIR_CONFIG file-mask names them (spec.md
// §3 "file filters, shell-glob style"). Matching the teacher's local
// backend, entries are read in one os.ReadDir pass rather than streamed.
type DirLister struct{}

// ListLocal implements Machine.Lister for the worker subprocess.
func (DirLister) ListLocal(dir string, filters []string) ([]LocalFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errkind.New(errkind.LocalIO, "worker.list_local", err)
	}
	var out []LocalFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !matchesAny(e.Name(), filters) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, LocalFile{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	return out, nil
}

// matchesAny reports whether name matches one of filters, or true if no
// filter is configured (spec.md §3 "no filter means every file").
func matchesAny(name string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if ok, _ := filepath.Match(f, name); ok {
			return true
		}
	}
	return false
}
