// Package dupcheck implements the duplicate-check store spec.md §4.H
// describes: a TTL-keyed hash table a worker consults before sending a
// file, keyed by (job-id or dir-id, CRC variant, digest).
package dupcheck

import (
	"hash/crc32"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Variant selects which digest a caller computed over the file identity.
type Variant uint8

const (
	CRC32 Variant = iota
	CRC32C
	Murmur3
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Digest computes the chosen variant's hash over data.
func Digest(v Variant, data []byte) uint32 {
	switch v {
	case CRC32C:
		return crc32.Checksum(data, castagnoliTable)
	case Murmur3:
		return murmur3.Sum32(data)
	default:
		return crc32.ChecksumIEEE(data)
	}
}

// Outcome is what a Check call tells the caller to do with the
// file in hand (spec.md §4.D "outcomes are {DELETE, STORE-and-skip,
// WARN-and-send}").
type Outcome int

const (
	WarnAndSend Outcome = iota
	Delete
	StoreAndSkip
)

type key struct {
	owner   uint32 // job-id or dir-id, caller's choice
	variant Variant
	digest  uint32
}

type entry struct {
	expiresAt time.Time
}

// Policy names what a caller should do on a hit, matching the per-JID
// duplicate-handling option spec.md leaves implementation-defined beyond
// naming the three outcomes.
type Policy int

const (
	PolicyWarn Policy = iota
	PolicyDelete
	PolicyStore
)

// Store is a TTL-keyed duplicate-check table. Expiration is lazy (swept
// on Check) plus a periodic Compact a caller runs on a timer, matching
// spec.md §4.H's "lazy on lookup, plus periodic compaction".
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[key]entry
}

// New builds a Store with the given entry lifetime.
func New(ttl time.Duration) *Store {
	return &Store{ttl: ttl, entries: make(map[key]entry)}
}

// Check looks up (owner, variant, digest). If unseen (or its entry has
// expired), it is recorded and the result is WarnAndSend regardless of
// policy — there is nothing to deduplicate against yet. If seen and
// unexpired, the configured policy's outcome is returned without
// refreshing the TTL (a resend within the window does not extend it).
func (s *Store) Check(owner uint32, variant Variant, digest uint32, policy Policy, now time.Time) Outcome {
	k := key{owner: owner, variant: variant, digest: digest}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[k]; ok {
		if now.Before(e.expiresAt) {
			return outcomeFor(policy)
		}
		delete(s.entries, k)
	}
	s.entries[k] = entry{expiresAt: now.Add(s.ttl)}
	return WarnAndSend
}

func outcomeFor(p Policy) Outcome {
	switch p {
	case PolicyDelete:
		return Delete
	case PolicyStore:
		return StoreAndSkip
	default:
		return WarnAndSend
	}
}

// Compact drops every expired entry; callers run this on a periodic
// timer alongside the lazy per-lookup expiration in Check.
func (s *Store) Compact(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the current entry count, including not-yet-swept expired
// entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
