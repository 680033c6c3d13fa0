// Package scheduler implements the FD role from spec.md §4.C: it owns
// the in-memory job queue, admission-controls per host, spawns worker
// children, and handles retries, host-toggle, keep-connected and burst
// chaining.
package scheduler

import (
	"container/heap"
	"sort"
	"time"
)

// PendingJob is one queued unit of work: either a send job (JobID set) or
// a retrieve scan (DirID set, JobID zero). Ordering matches spec.md §4.C:
// priority ('0'-'9', lower numeric = higher) then ascending msg_number
// (FIFO within a priority level).
type PendingJob struct {
	MsgNumber    uint64
	JobID        uint32
	DirID        uint32
	IsRetrieve   bool
	Priority     byte
	CreationTime time.Time
	FSAPosition  int // resolved host position at enqueue time; re-resolved on dispatch
	HostAlias    string
}

// jobHeap is a container/heap.Interface ordering PendingJob by
// (Priority, MsgNumber) ascending — priority '0' strictly precedes '1',
// ties broken by arrival order.
type jobHeap []*PendingJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].MsgNumber < h[j].MsgNumber
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*PendingJob)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the message-queue buffer (MDB/QB, spec.md §3): an
// ordered sequence of pending-transfer descriptors, mutated by the
// scheduler only. msgCounter mints the monotonically-increasing
// msg_number spec.md requires for FIFO tie-breaking.
type Queue struct {
	heap       jobHeap
	msgCounter uint64
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.heap)
	return q
}

// Enqueue assigns the next msg_number and inserts job into priority
// order.
func (q *Queue) Enqueue(job PendingJob) *PendingJob {
	q.msgCounter++
	job.MsgNumber = q.msgCounter
	item := &job
	heap.Push(&q.heap, item)
	return item
}

// Peek returns the highest-priority, oldest job without removing it, or
// nil if the queue is empty.
func (q *Queue) Peek() *PendingJob {
	if len(q.heap) == 0 {
		return nil
	}
	return q.heap[0]
}

// Remove pops a specific job out of priority order (used when admission
// picks a job that isn't strictly the head, e.g. because the head's host
// is currently throttled).
func (q *Queue) Remove(job *PendingJob) {
	for i, v := range q.heap {
		if v == job {
			heap.Remove(&q.heap, i)
			return
		}
	}
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int { return len(q.heap) }

// All returns every queued job ordered by (Priority, MsgNumber), without
// removing them — used by the admission pass to scan for an eligible job
// when the head is blocked, and by DropHost to drain one host's
// backlog. A container/heap's backing array is only heap-ordered
// (parent <= children), not totally sorted, so the snapshot is sorted
// here rather than returned in heap array order: admissionPass must see
// priority 0 strictly before priority 1 for a given host, not whichever
// order the array happens to hold them in.
func (q *Queue) All() []*PendingJob {
	out := make([]*PendingJob, len(q.heap))
	copy(out, q.heap)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].MsgNumber < out[j].MsgNumber
	})
	return out
}

// DropHost removes every not-yet-dispatched job for alias, the "drains
// the queue of that host's jobs not yet dispatched" step of spec.md
// §4.C's cancellation semantics for stop(host).
func (q *Queue) DropHost(alias string) []*PendingJob {
	var dropped []*PendingJob
	for _, job := range q.All() {
		if job.HostAlias == alias {
			q.Remove(job)
			dropped = append(dropped, job)
		}
	}
	return dropped
}
