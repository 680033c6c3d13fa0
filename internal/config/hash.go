package config

import (
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// Canonicalization and hashing for stable 32-bit ids (spec.md §4.B: "For
// each (directory, filter, recipient, options) tuple computes
// deterministic 32-bit hashes over canonicalized content; the hash is the
// job-id"). Hashes are stable across reloads when the relevant fields are
// unchanged, and change whenever any field in the tuple changes — the
// property TestIdempotence and TestJobIDChangesOnAnyFieldEdit in hash_test.go
// establish.
//
// MurmurHash3 is the same hash family the duplicate-check store uses
// (spec.md §4.D), so one dependency covers both.

func hash32(parts ...string) uint32 {
	h := murmur3.New32()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0}) // field separator so "ab","c" != "a","bc"
	}
	return h.Sum32()
}

// DirID computes the stable directory id from the fields that identify a
// directory independent of which recipients consume it.
func DirID(d DirSection) uint32 {
	return hash32(d.Alias, d.Path)
}

// FileMaskID computes the stable file-mask id from the ordered filter
// list. Order matters: FMD stores an *ordered* list of glob patterns.
func FileMaskID(filters []string) uint32 {
	return hash32(strings.Join(filters, "\x1f"))
}

// JobID computes the stable job id for a fully-resolved tuple. Any field
// change yields a new id; old ids are never reused (spec.md §3 "Job-ID
// record").
func JobID(t Tuple) uint32 {
	return hash32(
		t.Dir.Alias,
		t.Dir.Path,
		strings.Join(t.Filters, "\x1f"),
		t.Recipient.URL,
		string(t.Recipient.Priority),
		strings.Join(t.Recipient.LocalOptions, "\x1f"),
		strings.Join(t.Recipient.SocketOptions, "\x1f"),
		strconv.FormatUint(uint64(t.DirConfigID), 10),
	)
}

// DirConfigID hashes the path of a DIR_CONFIG file into the stable id
// stored alongside each job-id (spec.md §3 "DIR_CONFIG-id").
func DirConfigID(path string) uint32 {
	return hash32(path)
}
