// Package worker implements the transfer-worker role (spec.md §4.D): a
// per-job process that drives a protocol.Adapter through connect, login,
// the send/retrieve loop, and burst-chained follow-on jobs, reporting
// back to the scheduler over inherited pipes.
package worker

import (
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/ipc"
	"github.com/afdproject/afd/internal/scheduler"
)

// Launcher spawns the afd binary's "serve worker" subcommand as a child
// process per dispatched job, wiring three inherited pipes in its
// ExtraFiles: burst descriptors in (fd 3), burst ACKs out (fd 4), and
// its single completion FIN record out (fd 5). This is the
// scheduler.WorkerLauncher used outside of tests; the scheduler package
// itself only depends on the interface.
type Launcher struct {
	BinaryPath string
	WorkDir    string
	ConfigPath string // forwarded as --config so the worker reads the same settings file as its parent
	Log        *logrus.Entry
}

var _ scheduler.WorkerLauncher = (*Launcher)(nil)

// Launch starts one worker subprocess for job and returns a handle the
// scheduler drives via burst/terminate/kill.
func (l *Launcher) Launch(job scheduler.DispatchJob) (scheduler.WorkerHandle, error) {
	burstR, burstW, err := os.Pipe()
	if err != nil {
		return nil, errkind.New(errkind.LocalIO, "worker.launch_pipe", err)
	}
	ackR, ackW, err := os.Pipe()
	if err != nil {
		closeAll(burstR, burstW)
		return nil, errkind.New(errkind.LocalIO, "worker.launch_pipe", err)
	}
	finR, finW, err := os.Pipe()
	if err != nil {
		closeAll(burstR, burstW, ackR, ackW)
		return nil, errkind.New(errkind.LocalIO, "worker.launch_pipe", err)
	}

	cmd := exec.Command(l.BinaryPath, "serve", "worker",
		"--job-id", strconv.FormatUint(uint64(job.JobID), 10),
		"--dir-id", strconv.FormatUint(uint64(job.DirID), 10),
		"--host-alias", job.HostAlias,
		"--protocol", job.Protocol,
		"--retrieve", strconv.FormatBool(job.IsRetrieve),
		"--keep-connected", job.KeepConnected.String(),
		"--work-dir", l.WorkDir,
	)
	if l.ConfigPath != "" {
		cmd.Args = append(cmd.Args, "--config", l.ConfigPath)
	}
	cmd.ExtraFiles = []*os.File{burstR, ackW, finW}
	if l.Log != nil {
		cmd.Stdout = l.Log.Logger.Out
		cmd.Stderr = l.Log.Logger.Out
	}

	if err := cmd.Start(); err != nil {
		closeAll(burstR, burstW, ackR, ackW, finR, finW)
		return nil, errkind.New(errkind.LocalIO, "worker.spawn", err)
	}
	// the child inherited its own copies of burstR/ackW/finW across fork;
	// the parent's copies are only useful for the write/read ends it
	// keeps below.
	burstR.Close()
	ackW.Close()
	finW.Close()

	h := &Handle{
		cmd:         cmd,
		burstW:      burstW,
		ackR:        ackR,
		finR:        finR,
		completions: make(chan ipc.FINRecord, 1),
	}
	go h.watch()
	return h, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Handle is the scheduler's live view of one spawned worker process.
type Handle struct {
	cmd         *exec.Cmd
	burstW      *os.File
	ackR        *os.File
	finR        *os.File
	completions chan ipc.FINRecord

	ackMu sync.Mutex
}

var _ scheduler.WorkerHandle = (*Handle)(nil)

// PID returns the worker's process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// SendBurst hands the worker a new job over its control pipe.
func (h *Handle) SendBurst(d ipc.BurstDescriptor) error {
	return ipc.WriteBurstDescriptor(h.burstW, d)
}

// AwaitACK blocks for the worker's burst acknowledgement. Burst
// descriptors are sent strictly one at a time per spec.md §5's
// half-duplex control channel guarantee; ackMu also serializes the
// reads, so two callers never read from the pipe at once.
func (h *Handle) AwaitACK() (ipc.BurstACK, error) {
	h.ackMu.Lock()
	defer h.ackMu.Unlock()
	return ipc.ReadBurstACK(h.ackR)
}

// Completions returns the channel this worker's single FIN record
// arrives on when it finally exits (after its last burst-chained job, or
// after Terminate/Kill).
func (h *Handle) Completions() <-chan ipc.FINRecord {
	return h.completions
}

// Terminate sends SIGTERM: "finish current I/O chunk then exit cleanly;
// do not start a new file" (spec.md §4.C).
func (h *Handle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill sends SIGKILL, used after ABORT_TIMEOUT elapses.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

// watch reads the worker's single FIN record, reaps the child to avoid a
// zombie, and closes every pipe end this process owns.
func (h *Handle) watch() {
	fin, err := ipc.ReadFIN(h.finR)
	_ = h.cmd.Wait()
	if err != nil {
		fin = ipc.FINRecord{PID: int32(h.PID()), ExitKind: int32(errkind.ProtocolBug.ExitCode())}
	}
	h.completions <- fin
	_ = h.finR.Close()
	_ = h.ackR.Close()
	_ = h.burstW.Close()
}
