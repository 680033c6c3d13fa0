package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/afdproject/afd/internal/ipc"
)

// newStartCmd runs "afd serve supervisor" and waits for it to return:
// the supervisor daemonizes itself via go-daemon's Reborn (see
// newServeSupervisorCmd), so this process only blocks as long as it
// takes the supervisor to fork, write its pid file and hand control to
// the detached child. The caller uses "afd status" to confirm it came up.
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			if isRunning() {
				fmt.Fprintln(os.Stderr, "afd: already running")
				return nil
			}
			bin, err := resolveBinary()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(fsaDir, 0o755); err != nil {
				return err
			}
			args2 := []string{"serve", "supervisor", "--fsa-dir", fsaDir}
			if settingsPath != "" {
				args2 = append(args2, "--config", settingsPath)
			}
			c := exec.Command(bin, args2...)
			if err := c.Run(); err != nil {
				return err
			}
			fmt.Println("afd: started supervisor")
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "ask the running daemon to shut down cleanly",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(ipc.CmdShutdown, "stop")
		},
	}
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "ask the running daemon to reload DIR_CONFIG",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(ipc.CmdReloadDirConfig, "reload")
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			if isRunning() {
				fmt.Println("afd: running")
				return nil
			}
			fmt.Println("afd: not running")
			os.Exit(2)
			return nil
		},
	}
}

// sendControl writes cmd to the supervisor's command fifo and waits for
// its one-byte reply, translating the exit-code contract spec.md §6
// names: 0 success, 2 no running instance, anything else a failure kind.
func sendControl(cmd ipc.Command, verb string) error {
	cmdPath := commandFifoPath(fsaDir, "supervisor")
	replyPath := replyFifoPath(fsaDir, "supervisor")

	f, err := os.OpenFile(cmdPath, os.O_WRONLY|os.O_NONBLOCK, 0)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "afd: %s: no running instance\n", verb)
			os.Exit(2)
		}
		return err
	}
	defer f.Close()
	if err := ipc.WriteCommand(f, cmd); err != nil {
		return err
	}

	reply, err := ipc.OpenReply(replyPath)
	if err != nil {
		if err == ipc.ErrNoInstance {
			fmt.Fprintf(os.Stderr, "afd: %s: no running instance\n", verb)
			os.Exit(2)
		}
		return err
	}
	defer reply.Close()
	buf := make([]byte, 1)
	if _, err := reply.Read(buf); err != nil {
		return err
	}
	if buf[0] != ipc.ReplyACK {
		fmt.Fprintf(os.Stderr, "afd: %s: daemon replied with error code %d\n", verb, buf[0])
		os.Exit(int(buf[0]))
	}
	fmt.Printf("afd: %s acknowledged\n", verb)
	return nil
}

// isRunning probes the supervisor's command fifo the same way
// notifyFDRescan probes fd's: a non-blocking open succeeding means a
// reader (the supervisor's serveCommands loop) is on the other end.
func isRunning() bool {
	f, err := os.OpenFile(commandFifoPath(fsaDir, "supervisor"), os.O_WRONLY|os.O_NONBLOCK, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
