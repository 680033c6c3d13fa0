// Package protocol defines the capability set a transfer worker drives
// (spec.md §4.E) and a scheme registry that resolves a recipient URL to
// the adapter that serves it.
package protocol

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/afdproject/afd/internal/errkind"
)

// FileInfo is the minimal remote directory-entry shape every adapter's
// List returns, enough for the retrieve-list store and duplicate check to
// operate on without depending on a protocol-specific type.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Adapter is the polymorphic capability set spec.md §4.E names: connect,
// login, change_dir, list, stat_remote, open_read, read, close_read,
// open_write, write, close_write, delete_remote, rename_remote, noop,
// quit. Read/Write/Close are expressed through io.ReadCloser/WriteCloser
// rather than spelled out individually, matching how the teacher's own
// backends expose a remote object.
type Adapter interface {
	// Connect establishes the underlying transport (TCP dial, SSH
	// subprocess spawn, etc) but does not yet authenticate.
	Connect(ctx context.Context) error
	// Login authenticates over an already-connected transport.
	Login(ctx context.Context) error
	// ChangeDir selects the working directory remote operations are
	// relative to.
	ChangeDir(ctx context.Context, dir string) error
	// List enumerates dir's direct children.
	List(ctx context.Context, dir string) ([]FileInfo, error)
	// StatRemote returns one entry's metadata without listing its parent.
	StatRemote(ctx context.Context, name string) (FileInfo, error)
	// OpenRead opens name for a streaming read (RETRIEVE).
	OpenRead(ctx context.Context, name string) (io.ReadCloser, error)
	// OpenWrite opens name for a streaming write (SEND). size is advisory,
	// used by adapters that need to announce it up front (e.g. STOR over
	// a pre-allocated remote file).
	OpenWrite(ctx context.Context, name string, size int64) (io.WriteCloser, error)
	// DeleteRemote removes name.
	DeleteRemote(ctx context.Context, name string) error
	// RenameRemote implements the dot-prefix-then-rename and postfix lock
	// disciplines spec.md §4.D names.
	RenameRemote(ctx context.Context, from, to string) error
	// Noop pings the connection, used for pool health checks and
	// keep-connected idle pings.
	Noop(ctx context.Context) error
	// Quit closes the connection cleanly.
	Quit(ctx context.Context) error
}

// Dialer constructs an Adapter for one recipient URL. Each protocol
// package registers a Dialer under its scheme(s).
type Dialer func(rawURL string) (Adapter, error)

// Registry resolves a recipient URL's scheme to the Dialer that serves
// it. Longest-prefix match lets a scheme family register both a generic
// and a more specific form (e.g. "ssh" and "ssh+scp") without the
// specific one being shadowed by registration order.
type Registry struct {
	mu      sync.RWMutex
	dialers map[string]Dialer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{dialers: make(map[string]Dialer)}
}

// Register associates scheme with dialer. Registering the same scheme
// twice replaces the previous dialer.
func (r *Registry) Register(scheme string, dialer Dialer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[strings.ToLower(scheme)] = dialer
}

// Resolve finds the Dialer registered for scheme, preferring the longest
// registered scheme that is a prefix of scheme (so "sftp" requests match
// a "sftp" registration over a hypothetical generic "s" one, and a
// caller may register both "ssh" and "ssh-scp" without ambiguity).
func (r *Registry) Resolve(scheme string) (Dialer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scheme = strings.ToLower(scheme)
	if d, ok := r.dialers[scheme]; ok {
		return d, nil
	}
	var best string
	for k := range r.dialers {
		if strings.HasPrefix(scheme, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return nil, errkind.New(errkind.ProtocolBug, "protocol.resolve", errUnknownScheme(scheme))
	}
	return r.dialers[best], nil
}

// Schemes returns every registered scheme, sorted, for diagnostics.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.dialers))
	for k := range r.dialers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type errUnknownScheme string

func (e errUnknownScheme) Error() string { return "protocol: no adapter registered for scheme " + string(e) }
