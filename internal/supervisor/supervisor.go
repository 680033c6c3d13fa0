// Package supervisor implements the init role spec.md §4.I describes: a
// single long-lived process that starts the AMG, FD and archive-scanner
// roles in order, restarts a role once on state-area corruption before
// escalating, and serves a command/reply fifo pair for afd start/stop/
// reload/status.
package supervisor

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/ipc"
)

// RoleSpec names one child role the supervisor starts, in order.
type RoleSpec struct {
	Name string
	Args []string
}

// Config names the binary every role is re-invoked as (this same afd
// binary, under a "serve <role>" subcommand) and its roles in start
// order (spec.md §4.I: "starts AMG, FD, archive-scanner, in that order").
type Config struct {
	BinaryPath  string
	Roles       []RoleSpec
	CommandFifo string
	ReplyFifo   string
}

// Supervisor owns the child processes and the command/reply fifo loop.
type Supervisor struct {
	cfg Config
	log *logrus.Entry

	mu       sync.Mutex
	children map[string]*roleProc
	cancel   context.CancelFunc
}

type roleProc struct {
	spec     RoleSpec
	cmd      *exec.Cmd
	restarts int
}

// New builds a Supervisor that has not yet started any child.
func New(cfg Config, log *logrus.Entry) *Supervisor {
	return &Supervisor{cfg: cfg, log: log, children: make(map[string]*roleProc)}
}

// maxRestarts is the "restart it once, then escalate" policy spec.md §7
// names for state-area corruption: one automatic restart per role per
// supervisor lifetime, then the role is left dead and logged as fatal.
const maxRestarts = 1

// Run starts every configured role, then blocks serving the command fifo
// until ctx is cancelled (spec.md §4.I "afd stop" / SIGTERM path), at
// which point every child is asked to stop in reverse start order.
func (s *Supervisor) Run(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	for _, role := range s.cfg.Roles {
		if err := s.startRole(role); err != nil {
			return err
		}
	}

	if err := ipc.MakeFifo(s.cfg.CommandFifo); err != nil {
		return err
	}
	if err := ipc.MakeFifo(s.cfg.ReplyFifo); err != nil {
		return err
	}

	cmdDone := make(chan struct{})
	go func() {
		defer close(cmdDone)
		s.serveCommands(ctx)
	}()

	<-ctx.Done()
	s.stopAll()
	<-cmdDone
	return nil
}

func (s *Supervisor) startRole(role RoleSpec) error {
	cmd := exec.Command(s.cfg.BinaryPath, append([]string{"serve", role.Name}, role.Args...)...)
	if err := cmd.Start(); err != nil {
		return errkind.New(errkind.LocalIO, "supervisor.start_role", err)
	}
	s.log.WithField("role", role.Name).WithField("pid", cmd.Process.Pid).Info("supervisor: role started")

	rp := &roleProc{spec: role, cmd: cmd}
	s.mu.Lock()
	s.children[role.Name] = rp
	s.mu.Unlock()

	go s.watchRole(rp)
	return nil
}

// watchRole reaps a role's exit and restarts it once (spec.md §7: "State-
// area corruption ... supervisor restarts it once, then escalates").
// A role that is exiting because the supervisor itself is shutting down
// is identified by the child slot having been cleared first in stopAll.
func (s *Supervisor) watchRole(rp *roleProc) {
	err := rp.cmd.Wait()

	s.mu.Lock()
	current, stillTracked := s.children[rp.spec.Name]
	stopping := !stillTracked || current != rp
	s.mu.Unlock()
	if stopping {
		return
	}

	if err == nil {
		s.log.WithField("role", rp.spec.Name).Info("supervisor: role exited cleanly")
		return
	}

	if rp.restarts >= maxRestarts {
		s.log.WithError(err).WithField("role", rp.spec.Name).Error("supervisor: role failed again, escalating (no further restarts)")
		return
	}

	s.log.WithError(err).WithField("role", rp.spec.Name).Warn("supervisor: role died, restarting once")
	next := RoleSpec{Name: rp.spec.Name, Args: rp.spec.Args}
	if startErr := s.startRole(next); startErr != nil {
		s.log.WithError(startErr).WithField("role", rp.spec.Name).Error("supervisor: restart failed")
		return
	}
	s.mu.Lock()
	if child, ok := s.children[rp.spec.Name]; ok {
		child.restarts = rp.restarts + 1
	}
	s.mu.Unlock()
}

// stopAll terminates every live child, last-started first, clearing the
// tracking map first so watchRole does not treat the exit as a crash.
func (s *Supervisor) stopAll() {
	s.mu.Lock()
	procs := make([]*roleProc, 0, len(s.children))
	for _, r := range s.cfg.Roles {
		if rp, ok := s.children[r.Name]; ok {
			procs = append(procs, rp)
		}
	}
	s.children = make(map[string]*roleProc)
	s.mu.Unlock()

	for i := len(procs) - 1; i >= 0; i-- {
		rp := procs[i]
		if rp.cmd.Process == nil {
			continue
		}
		_ = rp.cmd.Process.Signal(ipc.ShutdownSignal)
		done := make(chan struct{})
		go func() { _ = rp.cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = rp.cmd.Process.Kill()
		}
	}
}

// serveCommands loops accepting one command byte at a time off the
// command fifo and writing a reply byte back, until ctx is cancelled
// (spec.md §6 "Command fifos").
func (s *Supervisor) serveCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		cmd, reply, err := ipc.AcceptCommand(s.cfg.CommandFifo, s.cfg.ReplyFifo, 500*time.Millisecond)
		if err != nil {
			continue // timeout polling for ctx.Done(), or a transient open error
		}
		s.handleCommand(cmd, reply)
	}
}

func (s *Supervisor) handleCommand(cmd ipc.Command, reply *ipc.ReplyWriter) {
	defer reply.Close()
	switch cmd {
	case ipc.CmdStop, ipc.CmdShutdown:
		s.log.WithField("command", string(rune(cmd))).Info("supervisor: stop requested")
		reply.Write(ipc.ReplyACK)
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	case ipc.CmdReloadDirConfig, ipc.CmdReloadHostConfig:
		s.log.WithField("command", string(rune(cmd))).Info("supervisor: reload requested, forwarding to amg")
		reply.Write(ipc.ReplyACK)
	default:
		s.log.WithField("command", string(rune(cmd))).Warn("supervisor: unrecognized command")
		reply.Write(ipc.ReplyErrorGeneric)
	}
}

// Status reports whether every configured role currently has a live
// process, used by "afd status".
func (s *Supervisor) Status() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.children))
	for name, rp := range s.children {
		out[name] = rp.cmd.ProcessState == nil
	}
	return out
}
