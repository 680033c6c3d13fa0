package worker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/afdproject/afd/internal/archive"
	"github.com/afdproject/afd/internal/dupcheck"
	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/protocol"
	"github.com/afdproject/afd/internal/retrieve"
	"github.com/afdproject/afd/internal/translog"
)

// LockDiscipline names the remote file lock convention a JID selects
// (spec.md §4.D "one of {none, dot-prefix-then-rename,
// dot-prefix-with-VMS-dot, postfix, side-lockfile}").
type LockDiscipline int

const (
	LockNone LockDiscipline = iota
	LockDotPrefixRename
	LockDotPrefixVMS
	LockPostfix
	LockSideLockfile
)

// BatchPolicy chooses whether a per-file fatal error aborts the whole
// batch or is skipped so the batch continues (spec.md §4.D).
type BatchPolicy int

const (
	PolicyAbortOnError BatchPolicy = iota
	PolicySkipOnError
)

// LocalFile is one file a SEND batch found ready to ship.
type LocalFile struct {
	Name string // remote-facing name
	Path string // local filesystem path
	Size int64
}

// FileLister enumerates local files for a SEND batch; the worker
// subprocess entrypoint backs this with os.ReadDir plus the directory's
// glob filters, tests substitute a fixed list.
type FileLister interface {
	ListLocal(dir string, filters []string) ([]LocalFile, error)
}

// Job is everything the state machine needs to run one batch, resolved
// from a scheduler.DispatchJob plus the worker's own JID/FRA lookups
// (the worker process does not share the scheduler's in-memory state; it
// re-attaches the state areas itself).
type Job struct {
	JobID           uint32
	DirID           uint32
	HostAlias       string
	RemoteDir       string
	LocalDir        string
	Filters         []string
	IsRetrieve      bool
	LockDiscipline  LockDiscipline
	BatchPolicy     BatchPolicy
	ArchiveTime     time.Duration
	ArchiveRoot     string
	ArchiveUser     string
	ArchiveDirNum   int
	ArchiveCompress bool
	ArchiveStep     time.Duration // bucket quantization step; must match the archive Scanner's configured ARCHIVE_STEP_TIME
	DupVariant      dupcheck.Variant
	DupPolicy       dupcheck.Policy
}

// Result summarizes one RunBatch call for the FIN record the caller
// writes back to the scheduler.
type Result struct {
	BytesTotal int64
	FilesTotal int
	Err        error
}

// Machine drives one or more burst-chained batches against a single
// protocol.Adapter connection.
type Machine struct {
	Adapter  protocol.Adapter
	Log      *logrus.Entry
	TransLog *translog.Logger
	Dup      *dupcheck.Store
	Lister   FileLister
	Retrieve *retrieve.Store

	connected bool
}

// connectOnce performs CONNECT → LOGIN → SELECT_DIR exactly once per
// live adapter session; burst-chained batches on the same Machine skip
// straight to the send/retrieve loop (spec.md §4.D state diagram: only
// the first batch on a session passes through CONNECT/LOGIN).
func (m *Machine) connectOnce(ctx context.Context, job Job) error {
	if m.connected {
		return m.Adapter.ChangeDir(ctx, job.RemoteDir)
	}
	if err := m.Adapter.Connect(ctx); err != nil {
		return err
	}
	if err := m.Adapter.Login(ctx); err != nil {
		return err
	}
	if err := m.Adapter.ChangeDir(ctx, job.RemoteDir); err != nil {
		return err
	}
	m.connected = true
	return nil
}

// RunBatch executes job.s SEND or RETRIEVE loop to completion (or until
// cancelled is closed between files), returning aggregate byte/file
// counts. A per-file failure aborts or is skipped per job.BatchPolicy;
// either way RunBatch itself only returns an error for a connect/login/
// list failure or an aborted batch.
func (m *Machine) RunBatch(ctx context.Context, job Job, cancelled <-chan struct{}) Result {
	if err := m.connectOnce(ctx, job); err != nil {
		return Result{Err: classifyPhaseErr("connect", err)}
	}
	if job.IsRetrieve {
		return m.runRetrieve(ctx, job, cancelled)
	}
	return m.runSend(ctx, job, cancelled)
}

func classifyPhaseErr(op string, err error) error {
	if _, ok := err.(*errkind.Error); ok {
		return err
	}
	return errkind.New(errkind.Transient, "worker."+op, err)
}

func isCancelled(cancelled <-chan struct{}) bool {
	select {
	case <-cancelled:
		return true
	default:
		return false
	}
}

func (m *Machine) runSend(ctx context.Context, job Job, cancelled <-chan struct{}) Result {
	files, err := m.Lister.ListLocal(job.LocalDir, job.Filters)
	if err != nil {
		return Result{Err: classifyPhaseErr("list_local", err)}
	}

	var res Result
	for _, f := range files {
		if isCancelled(cancelled) {
			break
		}
		if m.skipDuplicate(job, f) {
			continue
		}
		n, err := m.sendOne(ctx, job, f)
		if err != nil {
			m.TransLog.Failure(job.HostAlias, job.RemoteDir, f.Name, job.JobID, kindOf(err), err)
			if job.BatchPolicy == PolicyAbortOnError {
				res.Err = err
				return res
			}
			continue
		}
		m.TransLog.Success(job.HostAlias, job.RemoteDir, f.Name, n, job.JobID)
		res.BytesTotal += n
		res.FilesTotal++
		m.archiveOnSuccess(job, f)
	}
	return res
}

func (m *Machine) skipDuplicate(job Job, f LocalFile) bool {
	if m.Dup == nil {
		return false
	}
	digest := dupcheck.Digest(job.DupVariant, []byte(f.Name))
	switch m.Dup.Check(job.JobID, job.DupVariant, digest, job.DupPolicy, time.Now()) {
	case dupcheck.Delete:
		_ = os.Remove(f.Path)
		return true
	case dupcheck.StoreAndSkip:
		return true
	default:
		return false
	}
}

// sendOne runs OPEN_REMOTE → WRITE → CLOSE_REMOTE → [RENAME] for one
// file, applying job.LockDiscipline's remote naming convention.
func (m *Machine) sendOne(ctx context.Context, job Job, f LocalFile) (int64, error) {
	local, err := os.Open(f.Path)
	if err != nil {
		return 0, errkind.New(errkind.LocalIO, "worker.open_local", err)
	}
	defer local.Close()

	remoteName, finalName := remoteNames(job.LockDiscipline, f.Name)

	w, err := m.Adapter.OpenWrite(ctx, remoteName, f.Size)
	if err != nil {
		return 0, classifyPhaseErr("open_remote", err)
	}
	n, copyErr := io.Copy(w, local)
	closeErr := w.Close()
	if copyErr != nil {
		return n, errkind.New(errkind.RemoteSemantic, "worker.write_remote", copyErr)
	}
	if closeErr != nil {
		return n, errkind.New(errkind.RemoteSemantic, "worker.close_remote", closeErr)
	}
	if finalName != remoteName {
		if err := m.Adapter.RenameRemote(ctx, remoteName, finalName); err != nil {
			return n, errkind.New(errkind.RemoteSemantic, "worker.rename_remote", err)
		}
	}
	return n, nil
}

// remoteNames applies the chosen lock discipline, returning the name
// written under and the name it should end up as.
func remoteNames(d LockDiscipline, name string) (writeAs, finalAs string) {
	switch d {
	case LockDotPrefixRename:
		return "." + name, name
	case LockDotPrefixVMS:
		return "." + name + ".", name
	case LockPostfix:
		return name + ".tmp", name
	default: // LockNone, LockSideLockfile: write straight to the final name
		return name, name
	}
}

func (m *Machine) archiveOnSuccess(job Job, f LocalFile) {
	if job.ArchiveTime <= 0 || job.ArchiveRoot == "" {
		return
	}
	step := job.ArchiveStep
	if step <= 0 {
		step = 86400 * time.Second
	}
	now := time.Now().Unix()
	epoch := archive.BucketEpoch(now, int64(job.ArchiveTime.Seconds()), int64(step.Seconds()))
	var err error
	if job.ArchiveCompress {
		_, err = archive.StoreCompressed(job.ArchiveRoot, job.HostAlias, job.ArchiveUser, job.ArchiveDirNum, epoch, job.JobID, f.Path, f.Name)
	} else {
		_, err = archive.Store(job.ArchiveRoot, job.HostAlias, job.ArchiveUser, job.ArchiveDirNum, epoch, job.JobID, f.Path, f.Name)
	}
	if err != nil {
		m.Log.WithError(err).WithField("file", f.Name).Warn("worker: archive failed")
	}
}

func (m *Machine) runRetrieve(ctx context.Context, job Job, cancelled <-chan struct{}) Result {
	listing, err := m.Adapter.List(ctx, job.RemoteDir)
	if err != nil {
		return Result{Err: classifyPhaseErr("list", err)}
	}
	entries := make([]retrieve.Entry, len(listing))
	for i, fi := range listing {
		entries[i] = retrieve.Entry{Name: fi.Name, Size: fi.Size, Mtime: fi.ModTime}
	}
	toFetch := m.Retrieve.Reconcile(entries)

	var res Result
	for _, e := range toFetch {
		if isCancelled(cancelled) {
			break
		}
		if !m.Retrieve.Acquire(e.Name) {
			continue
		}
		n, err := m.retrieveOne(ctx, job, e)
		if err != nil {
			m.Retrieve.TransitionFailed(e.Name)
			m.TransLog.Failure(job.HostAlias, job.RemoteDir, e.Name, job.JobID, kindOf(err), err)
			if job.BatchPolicy == PolicyAbortOnError {
				res.Err = err
				return res
			}
			continue
		}
		m.Retrieve.TransitionStored(e.Name)
		m.TransLog.Success(job.HostAlias, job.RemoteDir, e.Name, n, job.JobID)
		res.BytesTotal += n
		res.FilesTotal++
	}
	return res
}

func (m *Machine) retrieveOne(ctx context.Context, job Job, e retrieve.Entry) (int64, error) {
	r, err := m.Adapter.OpenRead(ctx, e.Name)
	if err != nil {
		return 0, classifyPhaseErr("open_remote", err)
	}
	defer r.Close()

	dest := filepath.Join(job.LocalDir, filepath.Base(e.Name))
	tmp := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".part")
	local, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, errkind.New(errkind.LocalIO, "worker.create_local", err)
	}
	n, copyErr := io.Copy(local, r)
	closeErr := local.Close()
	if copyErr != nil {
		_ = os.Remove(tmp)
		return n, errkind.New(errkind.RemoteSemantic, "worker.read_remote", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return n, errkind.New(errkind.LocalIO, "worker.store_local", closeErr)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return n, errkind.New(errkind.LocalIO, "worker.store_local", err)
	}
	return n, nil
}

func kindOf(err error) errkind.Kind {
	if e, ok := err.(*errkind.Error); ok {
		return e.Kind
	}
	return errkind.Unknown
}

// Quit closes the adapter's connection, the terminal QUIT state (spec.md
// §4.D state diagram).
func (m *Machine) Quit(ctx context.Context) error {
	if !m.connected {
		return nil
	}
	return m.Adapter.Quit(ctx)
}
