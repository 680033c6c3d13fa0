// Package statearea implements the shared, memory-mapped typed state
// areas (FSA/FRA/JID/DNB/FMD/MDB) described in spec.md §4.A: a fixed
// 16-byte header followed by a contiguous array of fixed-size records,
// mapped by every cooperating process so they observe one view of the
// fleet.
//
// Position-indexed records can move across a config reload (spec.md §9
// "position-indexed records"): callers must carry (area, id) and resolve
// to a position on every touch, never cache a raw index across a
// suspension point. Lookup* below is that resolution step.
package statearea

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/afdproject/afd/internal/errkind"
)

// HeaderSize is the fixed on-disk header size spec.md §4.A specifies.
const HeaderSize = 16

// staleCount is written into a retired generation's EntryCount field so
// attached readers can detect the swap on their next touch (spec.md
// §4.A "writers publish changes in-place ... mark old STALE").
const staleCount = -1

// Header is the 16-byte area header: entry_count, 3 bytes padding,
// schema_version, 4 bytes padding, 4 bytes reserved.
type Header struct {
	EntryCount    int32
	SchemaVersion uint8
	Reserved      uint32
}

func encodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.EntryCount))
	// bytes 4-6 padding
	buf[7] = h.SchemaVersion
	// bytes 8-11 pad32
	binary.LittleEndian.PutUint32(buf[12:16], h.Reserved)
	return buf
}

func decodeHeader(buf []byte) Header {
	return Header{
		EntryCount:    int32(binary.LittleEndian.Uint32(buf[0:4])),
		SchemaVersion: buf[7],
		Reserved:      binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// Codec converts a fixed-size record to and from its on-disk byte layout.
// Implementations must produce a constant-size encoding; that size,
// together with the entry count, is how the typesize self-test (spec.md
// §4.A) verifies a file's layout before a process starts serving it.
type Codec[T any] interface {
	RecordSize() int
	Encode(v T, dst []byte)
	Decode(src []byte) T
}

// Area is an attached, memory-mapped state area of records of type T.
type Area[T any] struct {
	mu       sync.RWMutex
	path     string
	file     *os.File
	data     []byte
	codec    Codec[T]
	wantSchema uint8
}

// ErrNotFound is returned by lookups that fail to resolve an alias or id.
var ErrNotFound = fmt.Errorf("statearea: not found")

// Attach maps path into memory and validates its header against
// wantSchema. It returns errkind-classified errors per spec.md §4.A's
// contract: attach(area) -> handle | Error{IncompatibleVersion, Missing,
// Truncated}.
func Attach[T any](path string, codec Codec[T], wantSchema uint8) (*Area[T], error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.New(errkind.StateCorruption, "statearea.attach", fmt.Errorf("%s: missing", path))
		}
		return nil, errkind.New(errkind.LocalIO, "statearea.attach", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errkind.New(errkind.LocalIO, "statearea.attach", err)
	}
	if info.Size() < HeaderSize {
		f.Close()
		return nil, errkind.New(errkind.StateCorruption, "statearea.attach", fmt.Errorf("%s: truncated (%d bytes)", path, info.Size()))
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errkind.New(errkind.LocalIO, "statearea.attach", err)
	}
	hdr := decodeHeader(data[:HeaderSize])
	if hdr.SchemaVersion != wantSchema {
		_ = unix.Munmap(data)
		f.Close()
		return nil, errkind.New(errkind.StateCorruption, "statearea.attach",
			fmt.Errorf("%s: schema mismatch, on-disk=%d runtime=%d", path, hdr.SchemaVersion, wantSchema))
	}
	recSize := codec.RecordSize()
	want := HeaderSize + int(hdr.EntryCount)*recSize
	if hdr.EntryCount >= 0 && len(data) < want {
		_ = unix.Munmap(data)
		f.Close()
		return nil, errkind.New(errkind.StateCorruption, "statearea.attach", fmt.Errorf("%s: truncated record array", path))
	}
	return &Area[T]{path: path, file: f, data: data, codec: codec, wantSchema: wantSchema}, nil
}

// Create makes a new, empty area file with the given schema version and
// capacity (in records), ready for Attach.
func Create[T any](path string, codec Codec[T], schema uint8, capacity int) error {
	size := HeaderSize + capacity*codec.RecordSize()
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errkind.New(errkind.LocalIO, "statearea.create", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(size)); err != nil {
		return errkind.New(errkind.LocalIO, "statearea.create", err)
	}
	hdr := encodeHeader(Header{EntryCount: 0, SchemaVersion: schema})
	if _, err := f.WriteAt(hdr[:], 0); err != nil {
		return errkind.New(errkind.LocalIO, "statearea.create", err)
	}
	return nil
}

// IsStale reports whether the generation currently mapped has been
// retired by a publish. Readers must Close and re-Attach when this turns
// true (spec.md §4.A "Readers MUST re-attach when they observe STALE").
func (a *Area[T]) IsStale() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int32(binary.LittleEndian.Uint32(a.data[0:4])) == staleCount
}

// Count returns the number of live records.
func (a *Area[T]) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := int32(binary.LittleEndian.Uint32(a.data[0:4]))
	if n < 0 {
		return 0
	}
	return int(n)
}

func (a *Area[T]) recordOffset(pos int) int {
	return HeaderSize + pos*a.codec.RecordSize()
}

// Get decodes the record at pos. Callers must have resolved pos via a
// Lookup in this same touch; never hold a pos across a suspension point.
func (a *Area[T]) Get(pos int) (T, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var zero T
	if pos < 0 || pos >= a.Count() {
		return zero, ErrNotFound
	}
	off := a.recordOffset(pos)
	return a.codec.Decode(a.data[off : off+a.codec.RecordSize()]), nil
}

// Set writes the record at pos in place. Only the owning writer (config
// loader for identity fields, scheduler/workers for mutable fields, per
// spec.md §3 ownership rules) should call this.
func (a *Area[T]) Set(pos int, v T) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	off := a.recordOffset(pos)
	if off+a.codec.RecordSize() > len(a.data) {
		return ErrNotFound
	}
	a.codec.Encode(v, a.data[off:off+a.codec.RecordSize()])
	return nil
}

// LookupBy scans records with pred until it finds a match, returning its
// position. O(n) scan matches the source's linear FSA/FRA search; these
// arrays are sized for a fleet of hosts/directories, not a hot path
// needing an index.
func (a *Area[T]) LookupBy(pred func(T) bool) (int, error) {
	n := a.Count()
	for i := 0; i < n; i++ {
		v, err := a.Get(i)
		if err != nil {
			return -1, err
		}
		if pred(v) {
			return i, nil
		}
	}
	return -1, ErrNotFound
}

// ForEach visits every live record; used by the scheduler's housekeeping
// sweeps and by status viewers.
func (a *Area[T]) ForEach(fn func(pos int, v T) bool) {
	n := a.Count()
	for i := 0; i < n; i++ {
		v, err := a.Get(i)
		if err != nil {
			return
		}
		if !fn(i, v) {
			return
		}
	}
}

// PublishNew writes a fresh generation of records to a `.new` sibling
// file, installs it over path via atomic rename, and marks this mapped
// generation STALE so other attached readers re-attach (spec.md §4.A
// "publish_new(area, new_records)").
func (a *Area[T]) PublishNew(records []T) error {
	newPath := a.path + ".new"
	if err := Create(newPath, a.codec, a.wantSchema, len(records)); err != nil {
		return err
	}
	next, err := Attach(newPath, a.codec, a.wantSchema)
	if err != nil {
		return err
	}
	for i, v := range records {
		if err := next.Set(i, v); err != nil {
			next.Close()
			return err
		}
	}
	next.mu.Lock()
	binary.LittleEndian.PutUint32(next.data[0:4], uint32(len(records)))
	next.mu.Unlock()
	if err := next.file.Sync(); err != nil {
		next.Close()
		return errkind.New(errkind.LocalIO, "statearea.publish_new", err)
	}
	next.Close()

	if err := os.Rename(newPath, a.path); err != nil {
		return errkind.New(errkind.LocalIO, "statearea.publish_new", err)
	}

	a.mu.Lock()
	binary.LittleEndian.PutUint32(a.data[0:4], uint32(staleCount))
	a.mu.Unlock()
	return nil
}

// Reattach closes this stale handle and attaches the (now current) file
// at the same path fresh. Callers replace their Area[T] reference with
// the result.
func (a *Area[T]) Reattach() (*Area[T], error) {
	a.Close()
	return Attach(a.path, a.codec, a.wantSchema)
}

// Close unmaps and closes the underlying file.
func (a *Area[T]) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data != nil {
		_ = unix.Munmap(a.data)
		a.data = nil
	}
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
