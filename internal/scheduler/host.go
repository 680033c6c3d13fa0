package scheduler

import (
	"time"

	"github.com/afdproject/afd/internal/accounting"
	"github.com/afdproject/afd/internal/pacer"
)

// hostRuntime is the scheduler's in-memory bookkeeping for one host
// alias: the mutable fields spec.md §4.C lists ("allowed, active,
// consecutive_errors, host_status, retry_after, keep_connected_until,
// toggle_state") that don't belong on-disk in the FSA record itself.
// allowed/active/host_status/toggle live in the FSA record (shared,
// cross-process); this struct is the scheduler-private retry state.
type hostRuntime struct {
	alias              string
	backoff            *pacer.Pacer
	retryAfter         time.Time
	keepConnectedUntil time.Time
	probePending       bool // true once max_errors tripped, waiting on an explicit probe of the toggled-to name
	burst              *burstWorker
	stats              *accounting.HostStats
}

func newHostRuntime(alias string) *hostRuntime {
	return &hostRuntime{alias: alias, backoff: pacer.New(), stats: &accounting.HostStats{}}
}

// eligible reports whether retry backoff currently blocks dispatch to
// this host.
func (h *hostRuntime) eligible(now time.Time) bool {
	return !now.Before(h.retryAfter)
}

// recordSuccess resets backoff and clears any pending-toggle-probe state
// on a successful transfer (spec.md §4.C "When the primary becomes
// healthy ... revert").
func (h *hostRuntime) recordSuccess(now time.Time) {
	h.backoff.Reset()
	h.retryAfter = now
	h.probePending = false
}

// recordFailure advances backoff and returns the delay before the next
// attempt may be made.
func (h *hostRuntime) recordFailure(now time.Time) time.Duration {
	d := h.backoff.Fail()
	h.retryAfter = now.Add(d)
	return d
}

// burstWorker tracks a live worker process kept around past its last
// completed job, awaiting a burst-chained descriptor (spec.md §4.C
// "Burst policy").
type burstWorker struct {
	hostAlias string
	protocol  string
	creds     string // opaque identity: user+auth-method, compared for burst eligibility
	remoteDir string // only meaningful for retrieve bursts
	handle    WorkerHandle
}

// canBurstFor reports whether this live worker can take the next job
// without a new connect+login: same host, protocol and credentials, and
// (for retrieve) the same remote directory (spec.md §4.C).
func (b *burstWorker) canBurstFor(hostAlias, protocol, creds, remoteDir string, retrieve bool) bool {
	if b == nil {
		return false
	}
	if b.hostAlias != hostAlias || b.protocol != protocol || b.creds != creds {
		return false
	}
	if retrieve && b.remoteDir != remoteDir {
		return false
	}
	return true
}
