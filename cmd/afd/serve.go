package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sevlyar/go-daemon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/afdproject/afd/internal/archive"
	"github.com/afdproject/afd/internal/config"
	"github.com/afdproject/afd/internal/ipc"
	"github.com/afdproject/afd/internal/supervisor"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run one daemon role in the foreground",
	}
	cmd.AddCommand(newServeSupervisorCmd())
	cmd.AddCommand(newServeAmgCmd())
	cmd.AddCommand(newServeFdCmd())
	cmd.AddCommand(newServeArchiveCmd())
	cmd.AddCommand(newServeWorkerCmd())
	return cmd
}

// cancelOnSignal returns a context cancelled on SIGINT/SIGTERM, the
// shutdown trigger every long-running role waits on.
func cancelOnSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx
}

func newServeSupervisorCmd() *cobra.Command {
	var pidFile string
	var foreground bool
	cmd := &cobra.Command{
		Use:   "supervisor",
		Short: "start and supervise amg, fd and the archive scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(fsaDir, 0o755); err != nil {
				return err
			}
			if pidFile == "" {
				pidFile = filepath.Join(fsaDir, "supervisor.pid")
			}
			if !foreground {
				// "afd start" execs this command and expects to return as
				// soon as the real daemon has detached; go-daemon's Reborn
				// forks the child that keeps running and returns a
				// non-nil *os.Process to this, the parent, process, which
				// then exits without reaching the supervisor.New(...).Run
				// call below.
				cntxt := &daemon.Context{
					PidFileName: pidFile,
					PidFilePerm: 0o644,
					LogFileName: filepath.Join(fsaDir, "supervisor.log"),
					LogFilePerm: 0o644,
					WorkDir:     fsaDir,
					Umask:       0o027,
				}
				child, err := cntxt.Reborn()
				if err != nil {
					return err
				}
				if child != nil {
					return nil
				}
				defer cntxt.Release()
			}
			bin, err := resolveBinary()
			if err != nil {
				return err
			}
			log := newLogger("supervisor")
			childArgs := []string{"--fsa-dir", fsaDir}
			if settingsPath != "" {
				childArgs = append(childArgs, "--config", settingsPath)
			}
			cfg := supervisor.Config{
				BinaryPath: bin,
				Roles: []supervisor.RoleSpec{
					{Name: "amg", Args: childArgs},
					{Name: "fd", Args: childArgs},
					{Name: "archive", Args: childArgs},
				},
				CommandFifo: commandFifoPath(fsaDir, "supervisor"),
				ReplyFifo:   replyFifoPath(fsaDir, "supervisor"),
			}
			return supervisor.New(cfg, log).Run(cancelOnSignal())
		},
	}
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "pid file path (defaults to <fsa-dir>/supervisor.pid)")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "stay attached to the controlling terminal instead of detaching")
	return cmd
}

func newServeAmgCmd() *cobra.Command {
	var dirConfigs []string
	cmd := &cobra.Command{
		Use:   "amg",
		Short: "load DIR_CONFIG files and publish the fsa/fra/jid/dnb/fmd state areas",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("amg")
			if err := os.MkdirAll(fsaDir, 0o755); err != nil {
				return err
			}
			loader := config.NewLoader(config.Paths{FSADir: fsaDir}, log)

			run := func() error {
				b, err := loader.Load(dirConfigs)
				if err != nil {
					return err
				}
				if err := loader.Publish(b, noopReindexer{}); err != nil {
					return err
				}
				notifyFDRescan(log)
				return nil
			}

			if err := run(); err != nil {
				return err
			}

			ctx := cancelOnSignal()
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := run(); err != nil {
						log.WithError(err).Error("amg: reload failed, keeping prior generation")
					}
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&dirConfigs, "dir-config", nil, "DIR_CONFIG file paths (repeatable)")
	return cmd
}

// noopReindexer satisfies config.Reindexer for the amg process, which
// does not hold the live scheduler; the fd process reindexes itself on
// CmdRescan after amg publishes and notifies it (notifyFDRescan).
type noopReindexer struct{}

func (noopReindexer) FreezeAdmissions() {}
func (noopReindexer) Reindex() error    { return nil }
func (noopReindexer) ResumeAdmissions() {}

func notifyFDRescan(log *logrus.Entry) {
	// best-effort: if fd isn't up yet or its command fifo doesn't exist,
	// amg's own timer-driven reload still converges eventually.
	f, err := os.OpenFile(commandFifoPath(fsaDir, "fd"), os.O_WRONLY|os.O_NONBLOCK, 0)
	if err != nil {
		return
	}
	defer f.Close()
	if err := ipc.WriteCommand(f, ipc.CmdRescan); err != nil {
		log.WithError(err).Warn("amg: failed to notify fd of new generation")
	}
}

func newServeArchiveCmd() *cobra.Command {
	var root string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "run the archive retention scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("archive-root") && activeSettings.ArchiveRoot != "" {
				root = activeSettings.ArchiveRoot
			}
			if !cmd.Flags().Changed("scan-interval") && activeSettings.ArchiveInterval > 0 {
				interval = activeSettings.ArchiveInterval
			}
			step := activeSettings.ArchiveStepTime
			if step <= 0 {
				step = 86400 * time.Second
			}
			log := newLogger("archive")
			s := archive.New(root, interval, step, log)
			ctx := cancelOnSignal()
			done := make(chan struct{})
			go func() {
				<-ctx.Done()
				close(done)
			}()
			s.Run(done)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "archive-root", "/var/afd/archive", "archive directory root")
	cmd.Flags().DurationVar(&interval, "scan-interval", time.Hour, "time between retention sweeps")
	return cmd
}

func commandFifoPath(dir, role string) string { return dir + "/" + role + ".cmd" }
func replyFifoPath(dir, role string) string   { return dir + "/" + role + ".reply" }
