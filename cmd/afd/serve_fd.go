package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/afdproject/afd/internal/config"
	"github.com/afdproject/afd/internal/ipc"
	"github.com/afdproject/afd/internal/scheduler"
	"github.com/afdproject/afd/internal/statearea"
	"github.com/afdproject/afd/internal/worker"
)

// dirScanner implements scheduler.Scanner over the local filesystem,
// treating "files present in the directory" as ready to send (spec.md
// §4.C step 2). It shares the worker package's directory listing so a
// file AFD would pick up for SEND is exactly the file the scanner
// reports as present.
type dirScanner struct{}

func (dirScanner) Scan(dir statearea.Directory) ([]scheduler.ScannedFile, error) {
	files, err := worker.DirLister{}.ListLocal(dir.GetPath(), nil)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]scheduler.ScannedFile, len(files))
	for i, f := range files {
		out[i] = scheduler.ScannedFile{Name: f.Name, Size: f.Size}
	}
	return out, nil
}

func newServeFdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fd",
		Short: "run the scheduler: admission control, dispatch, retries and host toggling",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("fd")
			bin, err := resolveBinary()
			if err != nil {
				return err
			}

			paths := config.Paths{FSADir: fsaDir}
			fsa, fra, jid, err := attachStateAreas(paths)
			if err != nil {
				return err
			}

			launcher := &worker.Launcher{BinaryPath: bin, WorkDir: fsaDir, ConfigPath: settingsPath, Log: log}
			schedCfg := scheduler.Config{
				MaxErrors:       activeSettings.MaxErrors,
				AbortTimeout:    activeSettings.AbortTimeout,
				WaitForFDReply:  activeSettings.WaitForFDReply,
				KeepConnected:   activeSettings.KeepConnected,
				DirScanInterval: activeSettings.DirScanInterval,
			}
			sched := scheduler.New(schedCfg, fsa, fra, jid, launcher, dirScanner{}, log)

			if err := ipc.MakeFifo(commandFifoPath(fsaDir, "fd")); err != nil {
				return err
			}

			ctx := cancelOnSignal()
			go serveFdCommands(ctx, sched, log)

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					sched.Shutdown()
					return nil
				case now := <-ticker.C:
					sched.Tick(now)
				}
			}
		},
	}
	return cmd
}

// attachStateAreas attaches fsa/fra/jid, creating empty areas first if
// amg hasn't published a generation yet so fd can start standalone.
func attachStateAreas(paths config.Paths) (*statearea.Ref[statearea.Host], *statearea.Ref[statearea.Directory], *statearea.Ref[statearea.JobID], error) {
	if err := os.MkdirAll(paths.FSADir, 0o755); err != nil {
		return nil, nil, nil, err
	}
	fsaPath := filepath.Join(paths.FSADir, "fsa")
	fraPath := filepath.Join(paths.FSADir, "fra")
	jidPath := filepath.Join(paths.FSADir, "jid")

	if err := ensureArea(fsaPath, statearea.HostCodec{}); err != nil {
		return nil, nil, nil, err
	}
	if err := ensureArea(fraPath, statearea.DirectoryCodec{}); err != nil {
		return nil, nil, nil, err
	}
	if err := ensureArea(jidPath, statearea.JobIDCodec{}); err != nil {
		return nil, nil, nil, err
	}

	fsaArea, err := statearea.Attach(fsaPath, statearea.HostCodec{}, config.SchemaVersion)
	if err != nil {
		return nil, nil, nil, err
	}
	fraArea, err := statearea.Attach(fraPath, statearea.DirectoryCodec{}, config.SchemaVersion)
	if err != nil {
		return nil, nil, nil, err
	}
	jidArea, err := statearea.Attach(jidPath, statearea.JobIDCodec{}, config.SchemaVersion)
	if err != nil {
		return nil, nil, nil, err
	}
	return statearea.NewRef(fsaArea), statearea.NewRef(fraArea), statearea.NewRef(jidArea), nil
}

func ensureArea[T any](path string, codec statearea.Codec[T]) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return statearea.Create(path, codec, config.SchemaVersion, 0)
	}
	return nil
}

// serveFdCommands answers the fd command fifo: CmdRescan reindexes
// in-flight jobs against whatever generation amg most recently
// published. Pause/resume reuse the scheduler's freeze mechanism.
// CmdToggleHost needs a host-alias payload the one-byte command protocol
// does not carry, so it is acknowledged but not yet actionable here.
func serveFdCommands(ctx context.Context, sched *scheduler.Scheduler, log *logrus.Entry) {
	cmdPath := commandFifoPath(fsaDir, "fd")
	replyPath := replyFifoPath(fsaDir, "fd")
	_ = ipc.MakeFifo(replyPath)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		cmd, reply, err := ipc.AcceptCommand(cmdPath, replyPath, 500*time.Millisecond)
		if err != nil {
			continue
		}
		switch cmd {
		case ipc.CmdRescan:
			sched.FreezeAdmissions()
			err := sched.Reindex()
			sched.ResumeAdmissions()
			if err != nil {
				log.WithError(err).Warn("fd: reindex after rescan failed")
				_ = reply.Write(ipc.ReplyErrorGeneric)
			} else {
				_ = reply.Write(ipc.ReplyACK)
			}
		case ipc.CmdPauseQueue:
			sched.FreezeAdmissions()
			_ = reply.Write(ipc.ReplyACK)
		case ipc.CmdResumeQueue:
			sched.ResumeAdmissions()
			_ = reply.Write(ipc.ReplyACK)
		case ipc.CmdToggleHost:
			log.Warn("fd: toggle-host is not expressible over the one-byte command fifo yet")
			_ = reply.Write(ipc.ReplyErrorGeneric)
		default:
			_ = reply.Write(ipc.ReplyErrorGeneric)
		}
		reply.Close()
	}
}
