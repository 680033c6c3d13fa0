// Package accounting tracks bytes/files transferred per job-slot and
// per host, and provides a token-bucket rate limiter (TokenBucket).
//
// The scheduler keeps one HostStats per host, updated from each FIN
// record. Transfer and TokenBucket have no caller in this module: no
// worker FSA job-slot update and no TRL (transfer-rate-limit) group-rate
// recalculation reads them.
package accounting

import (
	"sync"
	"time"
)

// Transfer tracks the progress of a single in-flight file transfer. A
// worker updates it at least once per file (spec.md §4.D); observers may
// read it concurrently and must treat it as eventually consistent.
type Transfer struct {
	mu         sync.RWMutex
	uniqueName string
	bytesDone  int64
	bytesTotal int64
	started    time.Time
}

// NewTransfer starts tracking a transfer of a file with the given total
// size (may be unknown, i.e. 0, for streaming protocols).
func NewTransfer(uniqueName string, bytesTotal int64) *Transfer {
	return &Transfer{uniqueName: uniqueName, bytesTotal: bytesTotal, started: time.Now()}
}

// AddBytes records n more bytes moved.
func (t *Transfer) AddBytes(n int64) {
	t.mu.Lock()
	t.bytesDone += n
	t.mu.Unlock()
}

// Snapshot is a consistent point-in-time read of a Transfer, the shape
// copied into an FSA job-slot.
type Snapshot struct {
	UniqueName string
	BytesDone  int64
	BytesTotal int64
	Elapsed    time.Duration
}

// Snapshot returns the current progress.
func (t *Transfer) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		UniqueName: t.uniqueName,
		BytesDone:  t.bytesDone,
		BytesTotal: t.bytesTotal,
		Elapsed:    time.Since(t.started),
	}
}

// HostStats aggregates counters for one host's FSA entry: total bytes and
// files sent/received plus a rolling error counter, read by status
// viewers and written by the scheduler and its workers.
type HostStats struct {
	mu            sync.RWMutex
	BytesSent     int64
	FilesSent     int64
	BytesReceived int64
	FilesReceived int64
	Errors        int64
}

// AddSent records a completed send of n bytes.
func (h *HostStats) AddSent(n int64) {
	h.mu.Lock()
	h.BytesSent += n
	h.FilesSent++
	h.mu.Unlock()
}

// AddBatch records a worker's aggregate FIN totals: a worker process
// reports byte/file counts across its whole batch in a single record,
// not one AddSent call per file.
func (h *HostStats) AddBatch(bytes int64, files int64) {
	h.mu.Lock()
	h.BytesSent += bytes
	h.FilesSent += files
	h.mu.Unlock()
}

// AddReceived records a completed retrieve of n bytes.
func (h *HostStats) AddReceived(n int64) {
	h.mu.Lock()
	h.BytesReceived += n
	h.FilesReceived++
	h.mu.Unlock()
}

// AddError increments the error counter.
func (h *HostStats) AddError() {
	h.mu.Lock()
	h.Errors++
	h.mu.Unlock()
}

// Snapshot returns a consistent copy of the counters.
func (h *HostStats) Snapshot() HostStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HostStats{
		BytesSent:     h.BytesSent,
		FilesSent:     h.FilesSent,
		BytesReceived: h.BytesReceived,
		FilesReceived: h.FilesReceived,
		Errors:        h.Errors,
	}
}

// TokenBucket is a simple byte-rate limiter sized for per-host or
// per-TRL-group pacing; no caller in this module uses it. It is
// deliberately small: AFD's TRL groups only
// need a shared allowance recomputed on a timer, not a general traffic
// shaper.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // bytes per second
	last       time.Time
}

// NewTokenBucket creates a bucket with the given steady-state rate
// (bytes/sec) and burst capacity.
func NewTokenBucket(ratePerSec, capacity int64) *TokenBucket {
	return &TokenBucket{capacity: capacity, tokens: capacity, refillRate: ratePerSec, last: time.Now()}
}

func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	added := int64(elapsed.Seconds() * float64(b.refillRate))
	if added > 0 {
		b.tokens += added
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
}

// Take withdraws up to n bytes worth of tokens, returning how many were
// actually granted (possibly 0, possibly less than n). Callers loop,
// sleeping between partial grants, to pace a write loop without ever
// suspending mid-chunk indefinitely.
func (b *TokenBucket) Take(n int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens <= 0 {
		return 0
	}
	grant := n
	if grant > b.tokens {
		grant = b.tokens
	}
	b.tokens -= grant
	return grant
}

// SetRate changes the steady-state rate, used when TRL group membership
// changes and the per-member share is recalculated.
func (b *TokenBucket) SetRate(ratePerSec int64) {
	b.mu.Lock()
	b.refillRate = ratePerSec
	b.mu.Unlock()
}
