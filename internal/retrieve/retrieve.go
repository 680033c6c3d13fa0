// Package retrieve implements the retrieve-list store (ls_data) spec.md
// §4.F describes: one per-remote-directory catalog of seen entries,
// guarded by a coarse process lock and per-entry fine locks, applying
// one of five "stupid_mode" rewrite policies on each scan.
package retrieve

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/afdproject/afd/internal/errkind"
)

// State is an entry's lifecycle stage (spec.md §3 "Retrieve-list entry").
type State int

const (
	StateNew State = iota
	StateStored
	StateRetrieving
)

// StupidMode selects the rewrite policy applied on each directory scan
// (spec.md §4.F).
type StupidMode int

const (
	ModeNo StupidMode = iota
	ModeYes
	ModeGetOnceOnly
	ModeGetOnceNotExact
	ModeAppendOnly
)

// Entry is one remote name's catalog record.
type Entry struct {
	Name  string
	Size  int64
	Mtime time.Time
	State State
}

// Store is the in-memory (and, via Load/Save, on-disk) ls_data catalog
// for one remote directory. The coarse lock (mu) serializes every
// mutation; fine-grained per-entry locking (spec.md's "LOCK_RETR_FILE+k")
// is realized as the State field itself — RETRIEVING marks an entry
// checked out, and only the holder transitions it onward, so a second
// worker's TransitionStored/TransitionFailed on an entry it never
// acquired is a caller bug, not a race this type needs to defend against
// under mu.
type Store struct {
	mu      sync.Mutex
	path    string
	mode    StupidMode
	entries map[string]*Entry
}

// New builds an empty Store for one remote directory's catalog file.
func New(path string, mode StupidMode) *Store {
	return &Store{path: path, mode: mode, entries: make(map[string]*Entry)}
}

// Load reads path's persisted catalog, if present; a missing file is not
// an error (first run for this directory).
func Load(path string, mode StupidMode) (*Store, error) {
	s := New(path, mode)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errkind.New(errkind.LocalIO, "retrieve.load", err)
	}
	defer f.Close()

	if err := decodeEntries(f, s.entries); err != nil {
		return nil, errkind.New(errkind.StateCorruption, "retrieve.load", err)
	}
	return s, nil
}

// Save writes the catalog atomically: encode to "<path>.new" then rename
// into place, matching the publish_new discipline the rest of the state
// areas use.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".new"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errkind.New(errkind.LocalIO, "retrieve.save", err)
	}
	f, err := os.Create(tmp)
	if err != nil {
		return errkind.New(errkind.LocalIO, "retrieve.save", err)
	}
	if err := encodeEntries(f, s.entries); err != nil {
		f.Close()
		return errkind.New(errkind.LocalIO, "retrieve.save", err)
	}
	if err := f.Close(); err != nil {
		return errkind.New(errkind.LocalIO, "retrieve.save", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errkind.New(errkind.LocalIO, "retrieve.save", err)
	}
	return nil
}

// dedupKey returns the key entries are compared under for a given mode:
// the full name, except GET_ONCE_NOT_EXACT which compares by base name
// only.
func (s *Store) dedupKey(name string) string {
	if s.mode == ModeGetOnceNotExact {
		return filepath.Base(name)
	}
	return name
}

// Reconcile applies one scan's listing against the catalog per the
// configured stupid_mode, returning the subset of names the caller
// should actually fetch (spec.md §4.F policy table; scenario S4).
func (s *Store) Reconcile(listing []Entry) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ModeYes:
		s.entries = make(map[string]*Entry)
		out := make([]Entry, len(listing))
		copy(out, listing)
		for i := range out {
			e := out[i]
			s.entries[s.dedupKey(e.Name)] = &e
		}
		return out

	case ModeGetOnceOnly, ModeGetOnceNotExact:
		var fetch []Entry
		for _, e := range listing {
			k := s.dedupKey(e.Name)
			if _, seen := s.entries[k]; seen {
				continue
			}
			cp := e
			s.entries[k] = &cp
			fetch = append(fetch, e)
		}
		return fetch

	case ModeAppendOnly:
		var fetch []Entry
		for _, e := range listing {
			k := s.dedupKey(e.Name)
			prior, seen := s.entries[k]
			if !seen {
				cp := e
				s.entries[k] = &cp
				fetch = append(fetch, e)
				continue
			}
			if e.Size > prior.Size {
				// remote grew: the returned entry's Size is the number
				// of bytes added since the last scan, and the catalog
				// now records the new full size. No resume offset is
				// returned.
				grown := e
				grown.Size = e.Size - prior.Size
				fetch = append(fetch, grown)
				prior.Size = e.Size
			}
		}
		return fetch

	default: // ModeNo: incremental, nothing already-seen is re-listed for fetch
		var fetch []Entry
		for _, e := range listing {
			k := s.dedupKey(e.Name)
			if _, seen := s.entries[k]; seen {
				continue
			}
			cp := e
			s.entries[k] = &cp
			fetch = append(fetch, e)
		}
		return fetch
	}
}

// Acquire marks name RETRIEVING, the fine-lock checkout spec.md §3
// invariant 3 requires ("for any retrieve-list entry in RETRIEVING,
// exactly one worker holds its per-directory lock"). Returns false if
// the entry is already checked out.
func (s *Store) Acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[s.dedupKey(name)]
	if !ok || e.State == StateRetrieving {
		return false
	}
	e.State = StateRetrieving
	return true
}

// TransitionStored marks a successfully retrieved entry STORED (spec.md
// §4.F "On worker success the entry transitions to STORED").
func (s *Store) TransitionStored(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[s.dedupKey(name)]; ok {
		e.State = StateStored
	}
}

// TransitionFailed reverts a failed retrieve back to NEW so the next
// scan retries it (spec.md §4.F "on failure it returns to NEW").
func (s *Store) TransitionFailed(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[s.dedupKey(name)]; ok {
		e.State = StateNew
	}
}

// MarkStale implements the REMOTE_ONLY open-question resolution (SPEC_FULL.md
// Open Question 2): STORED entries are kept but their cached mtime is
// zeroed. Reconcile never reads Mtime, so this does not change which
// names a later Reconcile returns.
func (s *Store) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.State == StateStored {
			e.Mtime = time.Time{}
		}
	}
}

// Snapshot returns a copy of every catalog entry, for status viewers.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

func encodeEntries(w *os.File, entries map[string]*Entry) error {
	for k, e := range entries {
		line := strings.Join([]string{
			k,
			e.Name,
			strconv.FormatInt(e.Size, 10),
			strconv.FormatInt(e.Mtime.Unix(), 10),
			strconv.FormatInt(int64(e.State), 10),
		}, "\t") + "\n"
		if _, err := w.WriteString(line); err != nil {
			return err
		}
	}
	return nil
}

func decodeEntries(r *os.File, out map[string]*Entry) error {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	for _, line := range strings.Split(string(buf), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 5 {
			continue
		}
		size, _ := strconv.ParseInt(fields[2], 10, 64)
		mtimeUnix, _ := strconv.ParseInt(fields[3], 10, 64)
		state, _ := strconv.ParseInt(fields[4], 10, 64)
		out[fields[0]] = &Entry{
			Name:  fields[1],
			Size:  size,
			Mtime: time.Unix(mtimeUnix, 0),
			State: State(state),
		}
	}
	return nil
}
