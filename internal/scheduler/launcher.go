package scheduler

import (
	"time"

	"github.com/afdproject/afd/internal/ipc"
)

// DispatchJob is everything a worker needs to start a transfer: resolved
// from a PendingJob plus its JID/FRA lookups at dispatch time (spec.md
// §9 "never cache a raw index across a suspension point" — this struct
// carries resolved values, not positions, once handed to a worker).
type DispatchJob struct {
	JobID        uint32
	DirID        uint32
	HostAlias    string
	Protocol     string
	Credentials  string
	RemoteDir    string
	IsRetrieve   bool
	KeepConnected time.Duration
}

// WorkerHandle is the scheduler's view of one spawned (or burst-reused)
// transfer worker process.
type WorkerHandle interface {
	// PID returns the worker's process id, used to correlate FIN records.
	PID() int
	// SendBurst hands the worker a new job over its dedicated control
	// fifo without a fresh connect+login.
	SendBurst(d ipc.BurstDescriptor) error
	// AwaitACK blocks (up to the caller's own timeout handling) for the
	// worker's burst acknowledgement.
	AwaitACK() (ipc.BurstACK, error)
	// Completions returns a channel the scheduler selects on for this
	// worker's FIN record.
	Completions() <-chan ipc.FINRecord
	// Terminate sends SIGTERM ("finish current I/O chunk then exit
	// cleanly") per spec.md §4.C cancellation semantics.
	Terminate() error
	// Kill sends SIGKILL, used after ABORT_TIMEOUT elapses.
	Kill() error
}

// WorkerLauncher spawns a new transfer worker for job. Implemented by the
// worker package (os/exec against the afd binary's `serve worker`
// entrypoint); tests substitute a fake.
type WorkerLauncher interface {
	Launch(job DispatchJob) (WorkerHandle, error)
}
