package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/ipc"
)

// Session runs a worker subprocess's full lifetime: its first dispatched
// job, then a BURST_WAIT loop accepting follow-on descriptors over
// burstIn until keepConnected elapses or the process is asked to stop,
// finally writing one FIN record to finOut (spec.md §4.D state diagram:
// END_OF_BATCH → (BURST_WAIT → SELECT_DIR) | QUIT).
type Session struct {
	Machine       *Machine
	Log           *logrus.Entry
	BurstIn       *os.File
	AckOut        *os.File
	FinOut        *os.File
	KeepConnected time.Duration

	// Resolve turns a burst descriptor's (job-id, dir-id) pair into a
	// full Job, re-reading the JID/FRA state areas; the first job is
	// passed in directly since the launcher already resolved it.
	Resolve func(jobID, dirID uint32) (Job, error)
}

// Run drives first to completion, then serves burst descriptors until
// KeepConnected idle time elapses or SIGTERM arrives.
func (s *Session) Run(ctx context.Context, first Job) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cancelled := make(chan struct{})
	go func() {
		<-sigCh
		close(cancelled)
	}()

	var total Result
	job := first
	for {
		res := s.Machine.RunBatch(ctx, job, cancelled)
		total.BytesTotal += res.BytesTotal
		total.FilesTotal += res.FilesTotal
		if res.Err != nil {
			total.Err = res.Err
			break
		}
		if isCancelled(cancelled) {
			break
		}

		next, ok := s.awaitBurst()
		if !ok {
			break
		}
		job = next
	}

	_ = s.Machine.Quit(ctx)
	s.reportFIN(total)
}

// awaitBurst blocks on BurstIn up to KeepConnected for the next job
// descriptor, ACKing it back to the scheduler on success (spec.md §4.C
// "the worker acknowledges with a small ACK record").
func (s *Session) awaitBurst() (Job, bool) {
	type read struct {
		d   ipc.BurstDescriptor
		err error
	}
	ch := make(chan read, 1)
	go func() {
		d, err := ipc.ReadBurstDescriptor(s.BurstIn)
		ch <- read{d: d, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return Job{}, false
		}
		job, err := s.Resolve(r.d.JobID, r.d.DirID)
		if err != nil {
			s.Log.WithError(err).Warn("worker: burst descriptor resolved to no job, quitting")
			return Job{}, false
		}
		ack := ipc.BurstACK{Timestamp: time.Now().Unix(), JobID: r.d.JobID}
		if err := ipc.WriteBurstACK(s.AckOut, ack); err != nil {
			s.Log.WithError(err).Warn("worker: burst ACK write failed, quitting")
			return Job{}, false
		}
		return job, true
	case <-time.After(s.KeepConnected):
		return Job{}, false
	}
}

func (s *Session) reportFIN(res Result) {
	rec := ipc.FINRecord{
		PID:   int32(os.Getpid()),
		Bytes: res.BytesTotal,
		Files: int32(res.FilesTotal),
	}
	if res.Err != nil {
		if e, ok := res.Err.(*errkind.Error); ok {
			rec.ExitKind = int32(e.Kind.ExitCode())
		} else {
			rec.ExitKind = int32(errkind.ProtocolBug.ExitCode())
		}
	}
	if err := ipc.WriteFIN(s.FinOut, rec); err != nil {
		s.Log.WithError(err).Error("worker: FIN record write failed")
	}
}
