package scheduler

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/ipc"
	"github.com/afdproject/afd/internal/statearea"
)

// Config bounds the scheduler's timing policy; field names match the
// timers spec.md names directly.
type Config struct {
	MaxErrors          uint          // consecutive failures before host-toggle
	AbortTimeout       time.Duration // grace period after SIGTERM before SIGKILL
	WaitForFDReply     time.Duration // burst ACK wait
	KeepConnected      time.Duration // default burst idle window
	DirScanInterval    time.Duration
}

// DefaultConfig matches the values named in spec.md's scenarios.
func DefaultConfig() Config {
	return Config{
		MaxErrors:       3,
		AbortTimeout:    10 * time.Second,
		WaitForFDReply:  5 * time.Second,
		KeepConnected:   10 * time.Second,
		DirScanInterval: time.Second,
	}
}

// Scanner produces files to enqueue for a directory whose scan is due;
// implemented by the filesystem walker that lives alongside the
// scheduler. Kept as an interface so admission-pass logic is testable
// without touching a real filesystem.
type Scanner interface {
	Scan(dir statearea.Directory) ([]ScannedFile, error)
}

// ScannedFile is one file the directory scanner found ready to send.
type ScannedFile struct {
	Name string
	Size int64
}

// Scheduler is the FD role (spec.md §4.C).
type Scheduler struct {
	cfg Config
	log *logrus.Entry

	fsa *statearea.Ref[statearea.Host]
	fra *statearea.Ref[statearea.Directory]
	jid *statearea.Ref[statearea.JobID]

	launcher WorkerLauncher
	scanner  Scanner

	mu        sync.Mutex
	queue     *Queue
	hosts     map[string]*hostRuntime
	paused    bool
	frozen    bool
	completions chan workerDone
	nextDirScan map[uint32]time.Time
}

type workerDone struct {
	alias string
	fin   ipc.FINRecord
}

// New builds a Scheduler attached to the given state areas.
func New(cfg Config, fsa *statearea.Ref[statearea.Host], fra *statearea.Ref[statearea.Directory], jid *statearea.Ref[statearea.JobID], launcher WorkerLauncher, scanner Scanner, log *logrus.Entry) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		log:         log,
		fsa:         fsa,
		fra:         fra,
		jid:         jid,
		launcher:    launcher,
		scanner:     scanner,
		queue:       NewQueue(),
		hosts:       make(map[string]*hostRuntime),
		completions: make(chan workerDone, 64),
		nextDirScan: make(map[uint32]time.Time),
	}
}

func (s *Scheduler) hostRuntimeFor(alias string) *hostRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	hr, ok := s.hosts[alias]
	if !ok {
		hr = newHostRuntime(alias)
		s.hosts[alias] = hr
	}
	return hr
}

// Enqueue adds a send job to the priority queue. dir-id/priority are
// resolved from the JID the caller names.
func (s *Scheduler) Enqueue(jobID uint32) error {
	pos, err := s.jid.LookupBy(func(j statearea.JobID) bool { return j.JobID == jobID })
	if err != nil {
		return err
	}
	j, err := s.jid.Get(pos)
	if err != nil {
		return err
	}
	alias, err := s.hostAliasForDirID(j.DirID, j.GetRecipientURL())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.queue.Enqueue(PendingJob{
		JobID:        jobID,
		DirID:        j.DirID,
		Priority:     j.Priority,
		CreationTime: time.Now(),
		HostAlias:    alias,
	})
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) hostAliasForDirID(dirID uint32, recipientURL string) (string, error) {
	// the host alias is intrinsic to the recipient URL's host component;
	// resolved the same way config.hostAliasFromURL derives it at load
	// time, kept local here to avoid an import cycle with config.
	return hostAliasFromURL(recipientURL)
}

// Tick runs one pass of the scheduler's main loop (spec.md §4.C steps
// 1-4): drain completions, scan due directories, run an admission pass,
// and periodic housekeeping. Callers drive this from a select loop over
// a ticker; Tick itself never blocks.
func (s *Scheduler) Tick(now time.Time) {
	s.drainCompletions()
	s.scanDueDirectories(now)
	s.admissionPass(now)
}

// drainCompletions processes every FIN record queued so far without
// blocking (spec.md §4.C step 1).
func (s *Scheduler) drainCompletions() {
	for {
		select {
		case d := <-s.completions:
			s.handleCompletion(d.alias, d.fin)
		default:
			return
		}
	}
}

// handleCompletion updates host state from one worker's exit (spec.md
// §4.C step 1: "decrement active, clear error or increment
// consecutive_errors based on exit code, possibly schedule retry,
// possibly mark host as error-offline or trigger host toggle").
func (s *Scheduler) handleCompletion(alias string, fin ipc.FINRecord) {
	now := time.Now()
	hr := s.hostRuntimeFor(alias)

	pos, err := s.fsa.LookupBy(func(h statearea.Host) bool { return h.GetAlias() == alias })
	if err != nil {
		s.log.WithError(err).WithField("host_alias", alias).Error("scheduler: completion for unknown host")
		return
	}
	host, err := s.fsa.Get(pos)
	if err != nil {
		return
	}
	if host.ActiveCount > 0 {
		host.ActiveCount--
	}

	kind := errkind.FromExitCode(int(fin.ExitKind))
	if kind == errkind.Unknown && fin.ExitKind == 0 {
		host.ErrorCounter = 0
		hr.recordSuccess(now)
		hr.stats.AddBatch(fin.Bytes, int64(fin.Files))
	} else {
		host.ErrorCounter++
		hr.stats.AddError()
		delay := hr.recordFailure(now)
		s.log.WithFields(logrus.Fields{
			"host_alias": alias, "kind": kind.String(), "retry_in": delay,
		}).Warn("scheduler: transfer failed")

		if uint(hr.backoff.ConsecutiveFailures()) >= s.cfg.MaxErrors {
			s.toggleHostLocked(&host)
			hr.probePending = true
			hr.backoff.Reset()
		}
	}
	_ = s.fsa.Set(pos, host)
}

// toggleHostLocked implements spec.md §4.C's host-toggle policy: swap the
// active real hostname and reset the error counter.
func (s *Scheduler) toggleHostLocked(host *statearea.Host) {
	host.Toggle()
	host.ErrorCounter = 0
	s.log.WithFields(logrus.Fields{
		"host_alias": host.GetAlias(), "new_active": host.ActiveRealHostName(),
	}).Warn("scheduler: host toggled")
}

// ProbeSucceeded is called by a worker/health-probe after a successful
// transfer on the toggled-to hostname; it reverts the toggle per spec.md
// §4.C ("When the primary becomes healthy ... revert").
func (s *Scheduler) ProbeSucceeded(alias string, onAlternate bool) error {
	if !onAlternate {
		return nil
	}
	pos, err := s.fsa.LookupBy(func(h statearea.Host) bool { return h.GetAlias() == alias })
	if err != nil {
		return err
	}
	host, err := s.fsa.Get(pos)
	if err != nil {
		return err
	}
	host.Toggle()
	host.ErrorCounter = 0
	return s.fsa.Set(pos, host)
}

// scanDueDirectories enqueues files from directories whose next_scan_time
// has arrived and are neither stopped nor disabled (spec.md §4.C step 2).
func (s *Scheduler) scanDueDirectories(now time.Time) {
	_ = s.fra.ForEach(func(pos int, d statearea.Directory) bool {
		if d.Flags&(statearea.DirDisabled|statearea.DirStopped) != 0 {
			return true
		}
		if now.Before(time.Unix(d.NextCheckTime, 0)) {
			return true
		}
		files, err := s.scanner.Scan(d)
		if err != nil {
			s.log.WithError(err).WithField("dir_alias", d.GetAlias()).Error("scheduler: directory scan failed")
		} else if len(files) > 0 {
			s.log.WithFields(logrus.Fields{"dir_alias": d.GetAlias(), "files": len(files)}).Debug("scheduler: scan produced files")
			s.enqueueJobsForDir(d.DirID)
		}
		d.NextCheckTime = now.Add(s.cfg.DirScanInterval).Unix()
		_ = s.fra.Set(pos, d)
		return true
	})
}

// enqueueJobsForDir queues every job-id configured against dirID that
// isn't already sitting in the queue, so a directory scan that found
// ready files actually produces work for the admission pass (spec.md
// §4.C step 2 feeding step 3).
func (s *Scheduler) enqueueJobsForDir(dirID uint32) {
	s.mu.Lock()
	queued := map[uint32]bool{}
	for _, j := range s.queue.All() {
		queued[j.JobID] = true
	}
	s.mu.Unlock()

	_ = s.jid.ForEach(func(_ int, j statearea.JobID) bool {
		if j.DirID != dirID || queued[j.JobID] {
			return true
		}
		if err := s.Enqueue(j.JobID); err != nil {
			s.log.WithError(err).WithField("job_id", j.JobID).Warn("scheduler: failed to enqueue scanned job")
		}
		return true
	})
}

// admissionPass implements spec.md §4.C step 3: for each queued job,
// check host eligibility and active<allowed, preferring a burst-reuse
// worker over spawning a new one.
func (s *Scheduler) admissionPass(now time.Time) {
	s.mu.Lock()
	frozen := s.frozen || s.paused
	s.mu.Unlock()
	if frozen {
		return
	}

	s.mu.Lock()
	candidates := s.queue.All()
	s.mu.Unlock()

	for _, job := range candidates {
		if !s.tryDispatch(job, now) {
			continue
		}
		s.mu.Lock()
		s.queue.Remove(job)
		s.mu.Unlock()
	}
}

// tryDispatch attempts to admit one job; returns true if it was
// dispatched (burst or spawned) and should leave the queue.
func (s *Scheduler) tryDispatch(job *PendingJob, now time.Time) bool {
	hr := s.hostRuntimeFor(job.HostAlias)
	if !hr.eligible(now) {
		return false
	}

	pos, err := s.fsa.LookupBy(func(h statearea.Host) bool { return h.GetAlias() == job.HostAlias })
	if err != nil {
		s.log.WithError(err).WithField("host_alias", job.HostAlias).Error("scheduler: job references unknown host")
		return false
	}
	host, err := s.fsa.Get(pos)
	if err != nil {
		return false
	}
	if host.HostStatus&(statearea.HostDisabled|statearea.HostOffline|statearea.HostStopped) != 0 {
		return false
	}

	jidPos, err := s.jid.LookupBy(func(j statearea.JobID) bool { return j.JobID == job.JobID })
	if err != nil {
		return false
	}
	j, err := s.jid.Get(jidPos)
	if err != nil {
		return false
	}

	dj := DispatchJob{
		JobID:         job.JobID,
		DirID:         job.DirID,
		HostAlias:     job.HostAlias,
		Protocol:      schemeOf(j.GetRecipientURL()),
		Credentials:   credentialsOf(j.GetRecipientURL()),
		IsRetrieve:    job.IsRetrieve,
		KeepConnected: s.cfg.KeepConnected,
	}

	// a burst-reuse dispatch rides an already-counted connection, so it is
	// checked before the allowed-capacity gate below, which only bounds
	// how many distinct connections a host may have open.
	if hr.burst.canBurstFor(dj.HostAlias, dj.Protocol, dj.Credentials, dj.RemoteDir, dj.IsRetrieve) {
		if s.sendBurst(hr, dj, now) {
			return true
		}
		// burst failed: fall through and spawn fresh below
	}

	if host.ActiveCount >= host.Allowed {
		return false
	}

	handle, err := s.launcher.Launch(dj)
	if err != nil {
		s.log.WithError(err).WithField("host_alias", job.HostAlias).Error("scheduler: failed to spawn worker")
		return false
	}
	host.ActiveCount++
	_ = s.fsa.Set(pos, host)

	// the newly spawned worker stays attached for hr.burst until it exits,
	// so the next admission pass for this host/protocol/credentials pair
	// chains onto it over its control fifo instead of spawning a second
	// connection (spec.md §4.C "Burst policy").
	s.mu.Lock()
	hr.burst = &burstWorker{hostAlias: dj.HostAlias, protocol: dj.Protocol, creds: dj.Credentials, remoteDir: dj.RemoteDir, handle: handle}
	s.mu.Unlock()

	go s.watchWorker(job.HostAlias, handle)
	return true
}

// sendBurst hands dj to an already-live worker over its control fifo and
// waits up to WAIT_FOR_FD_REPLY for the ACK (spec.md §4.C "Burst
// policy"). On timeout the worker is killed and the job stays queued for
// a fresh spawn.
func (s *Scheduler) sendBurst(hr *hostRuntime, dj DispatchJob, now time.Time) bool {
	b := hr.burst
	if err := b.handle.SendBurst(ipc.BurstDescriptor{JobID: dj.JobID, DirID: dj.DirID}); err != nil {
		s.log.WithError(err).WithField("host_alias", hr.alias).Warn("scheduler: burst descriptor send failed")
		hr.burst = nil
		return false
	}
	ackCh := make(chan ipc.BurstACK, 1)
	errCh := make(chan error, 1)
	go func() {
		ack, err := b.handle.AwaitACK()
		if err != nil {
			errCh <- err
			return
		}
		ackCh <- ack
	}()
	select {
	case <-ackCh:
		return true
	case <-errCh:
		s.failBurst(hr)
		return false
	case <-time.After(s.cfg.WaitForFDReply):
		s.failBurst(hr)
		return false
	}
}

func (s *Scheduler) failBurst(hr *hostRuntime) {
	s.log.WithField("host_alias", hr.alias).Warn("scheduler: burst ACK timed out, killing worker and requeuing")
	_ = hr.burst.handle.Kill()
	hr.burst = nil
}

// watchWorker waits for a spawned worker's completion (or burst-keepalive
// expiry) and feeds the result into the completions channel for the next
// Tick to process.
func (s *Scheduler) watchWorker(alias string, handle WorkerHandle) {
	fin := <-handle.Completions()
	s.completions <- workerDone{alias: alias, fin: fin}

	s.mu.Lock()
	hr := s.hosts[alias]
	if hr != nil && hr.burst != nil && hr.burst.handle == handle {
		hr.burst = nil
	}
	s.mu.Unlock()
}

// StopHost implements spec.md §4.C cancellation: drains unqueued jobs for
// alias, SIGTERMs any live burst worker, waits AbortTimeout, then
// SIGKILLs.
func (s *Scheduler) StopHost(alias string) {
	s.mu.Lock()
	dropped := s.queue.DropHost(alias)
	hr := s.hosts[alias]
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"host_alias": alias, "dropped": len(dropped)}).Info("scheduler: host stopped, queue drained")

	if hr == nil || hr.burst == nil {
		return
	}
	handle := hr.burst.handle

	s.mu.Lock()
	hr.burst = nil
	s.mu.Unlock()

	_ = handle.Terminate()
	select {
	case fin := <-handle.Completions():
		s.completions <- workerDone{alias: alias, fin: fin}
	case <-time.After(s.cfg.AbortTimeout):
		_ = handle.Kill()
	}
}

// Shutdown cascades StopHost to every host with a live burst worker
// (spec.md §4.C "stop(scheduler) cascades to all workers").
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	aliases := make([]string, 0, len(s.hosts))
	for a := range s.hosts {
		aliases = append(aliases, a)
	}
	s.mu.Unlock()
	for _, a := range aliases {
		s.StopHost(a)
	}
}

// --- config.Reindexer ---

// FreezeAdmissions stops the admission pass from dispatching new jobs
// while the config loader swaps in a new generation.
func (s *Scheduler) FreezeAdmissions() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// ResumeAdmissions re-enables dispatch after Reindex completes.
func (s *Scheduler) ResumeAdmissions() {
	s.mu.Lock()
	s.frozen = false
	s.mu.Unlock()
}

// Reindex re-resolves every queued job's host alias and dir-id against
// the freshly-published JID, dropping jobs whose job-id no longer exists
// (spec.md §4.B "reindex in-flight jobs by (job-id) -> new position").
func (s *Scheduler) Reindex() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*PendingJob
	for _, job := range s.queue.All() {
		if job.IsRetrieve {
			kept = append(kept, job)
			continue
		}
		pos, err := s.jid.LookupBy(func(j statearea.JobID) bool { return j.JobID == job.JobID })
		if err != nil {
			s.log.WithField("job_id", job.JobID).Warn("scheduler: reindex dropped retired job-id")
			continue
		}
		j, err := s.jid.Get(pos)
		if err != nil {
			continue
		}
		alias, err := hostAliasFromURL(j.GetRecipientURL())
		if err != nil {
			continue
		}
		job.HostAlias = alias
		job.DirID = j.DirID
		kept = append(kept, job)
	}
	s.queue = NewQueue()
	for _, job := range kept {
		s.queue.Enqueue(*job)
	}
	return nil
}

func schemeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// credentialsOf returns an opaque identity for burst-eligibility
// comparisons: same scheme, same userinfo means a live connection can be
// reused without a new login. The userinfo itself is never logged, only
// compared.
func credentialsOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return ""
	}
	return fmt.Sprintf("%x", u.User.String())
}
