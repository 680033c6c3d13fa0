// Package locproto implements the LOC protocol (spec.md §4.E): transfers
// that read or write the local filesystem directly, with no network
// transport in between. Grounded on the teacher's local backend's
// direct os.* calls and its mkdirAll-before-write convention.
package locproto

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/protocol"
)

// Adapter resolves every name against a root directory derived from the
// recipient URL's path component.
type Adapter struct {
	root string
	cwd  string
}

// New parses rawURL's path as the local root. Registered under "loc" and
// "file".
func New(rawURL string) (protocol.Adapter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errkind.New(errkind.ProtocolBug, "locproto.parse", err)
	}
	root := u.Path
	if root == "" {
		root = u.Opaque
	}
	if root == "" {
		return nil, errkind.New(errkind.ProtocolBug, "locproto.parse", os.ErrInvalid)
	}
	return &Adapter{root: root}, nil
}

// Connect is a no-op: there is no transport to establish.
func (a *Adapter) Connect(ctx context.Context) error { return nil }

// Login is a no-op: local filesystem access relies on the worker
// process's own uid/gid.
func (a *Adapter) Login(ctx context.Context) error { return nil }

// ChangeDir records dir as the path prefix for subsequent operations,
// creating it if absent.
func (a *Adapter) ChangeDir(ctx context.Context, dir string) error {
	full := filepath.Join(a.root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return errkind.New(errkind.LocalIO, "locproto.mkdir", err)
	}
	a.cwd = dir
	return nil
}

func (a *Adapter) resolve(name string) string {
	return filepath.Join(a.root, a.cwd, name)
}

// List enumerates dir's direct children via os.ReadDir.
func (a *Adapter) List(ctx context.Context, dir string) ([]protocol.FileInfo, error) {
	entries, err := os.ReadDir(filepath.Join(a.root, dir))
	if err != nil {
		return nil, errkind.New(errkind.LocalIO, "locproto.readdir", err)
	}
	out := make([]protocol.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, protocol.FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime(), IsDir: e.IsDir()})
	}
	return out, nil
}

// StatRemote stats name directly.
func (a *Adapter) StatRemote(ctx context.Context, name string) (protocol.FileInfo, error) {
	fi, err := os.Stat(a.resolve(name))
	if err != nil {
		return protocol.FileInfo{}, errkind.New(errkind.LocalIO, "locproto.stat", err)
	}
	return protocol.FileInfo{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

// OpenRead opens name for reading.
func (a *Adapter) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(a.resolve(name))
	if err != nil {
		return nil, errkind.New(errkind.LocalIO, "locproto.open", err)
	}
	return f, nil
}

// OpenWrite writes to a ".<name>.part" sibling and renames into place on
// Close, the dot-prefix-then-rename discipline spec.md §4.D names,
// applied here so a crash mid-write never leaves a partial file visible
// under its final name.
func (a *Adapter) OpenWrite(ctx context.Context, name string, size int64) (io.WriteCloser, error) {
	final := a.resolve(name)
	tmp := filepath.Join(filepath.Dir(final), "."+filepath.Base(final)+".part")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errkind.New(errkind.LocalIO, "locproto.create", err)
	}
	return &partWriter{f: f, tmp: tmp, final: final}, nil
}

type partWriter struct {
	f     *os.File
	tmp   string
	final string
}

func (w *partWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *partWriter) Close() error {
	if err := w.f.Close(); err != nil {
		return errkind.New(errkind.LocalIO, "locproto.write", err)
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		return errkind.New(errkind.LocalIO, "locproto.rename", err)
	}
	return nil
}

// DeleteRemote removes name.
func (a *Adapter) DeleteRemote(ctx context.Context, name string) error {
	if err := os.Remove(a.resolve(name)); err != nil {
		return errkind.New(errkind.LocalIO, "locproto.remove", err)
	}
	return nil
}

// RenameRemote renames from to to within the root.
func (a *Adapter) RenameRemote(ctx context.Context, from, to string) error {
	if err := os.Rename(a.resolve(from), a.resolve(to)); err != nil {
		return errkind.New(errkind.LocalIO, "locproto.rename", err)
	}
	return nil
}

// Noop stats the root to confirm it is still reachable (a removed mount
// point surfaces here rather than mid-transfer).
func (a *Adapter) Noop(ctx context.Context) error {
	if _, err := os.Stat(a.root); err != nil {
		return errkind.New(errkind.LocalIO, "locproto.noop", err)
	}
	return nil
}

// Quit is a no-op: there is no connection to release.
func (a *Adapter) Quit(ctx context.Context) error { return nil }
