// Package execproto implements the EXEC protocol (spec.md §4.E): a file
// is handed to a configured command over its stdin (SEND) or produced on
// a command's stdout (RETRIEVE), with no remote listing semantics.
package execproto

import (
	"context"
	"io"
	"net/url"
	"os/exec"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/protocol"
)

// Adapter runs command once per OpenRead/OpenWrite call; EXEC recipients
// have no persistent session to keep alive, so burst reuse never applies
// to this protocol family.
type Adapter struct {
	command string
	args    []string
}

// New parses rawURL's opaque part as a shell-free argv, the same
// convention the supervisor's own child-process launches use: the first
// whitespace-separated token is the command, the rest are its arguments.
func New(rawURL string) (protocol.Adapter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errkind.New(errkind.ProtocolBug, "execproto.parse", err)
	}
	argv := splitArgv(u.Opaque)
	if len(argv) == 0 {
		return nil, errkind.New(errkind.ProtocolBug, "execproto.parse", errNoCommand{})
	}
	return &Adapter{command: argv[0], args: argv[1:]}, nil
}

type errNoCommand struct{}

func (errNoCommand) Error() string { return "execproto: empty command" }

func splitArgv(s string) []string {
	var out []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ' ' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, s[start:i])
			start = -1
		}
	}
	return out
}

// Connect, Login, ChangeDir, List, DeleteRemote, RenameRemote and Noop
// have no meaning for a pipe-to-command recipient; each returns success
// or an empty result so the worker's generic state machine does not need
// an EXEC-specific branch for them. StatRemote returns a ProtocolBug
// error.
func (a *Adapter) Connect(ctx context.Context) error   { return nil }
func (a *Adapter) Login(ctx context.Context) error     { return nil }
func (a *Adapter) ChangeDir(ctx context.Context, dir string) error { return nil }

func (a *Adapter) List(ctx context.Context, dir string) ([]protocol.FileInfo, error) {
	return nil, nil
}

func (a *Adapter) StatRemote(ctx context.Context, name string) (protocol.FileInfo, error) {
	return protocol.FileInfo{}, errkind.New(errkind.ProtocolBug, "execproto.stat", errNoCommand{})
}

// OpenRead runs the command and streams its stdout, the RETRIEVE side of
// EXEC.
func (a *Adapter) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, a.command, append(append([]string{}, a.args...), name)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errkind.New(errkind.LocalIO, "execproto.stdout_pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errkind.New(errkind.LocalIO, "execproto.start", err)
	}
	return &waitReadCloser{ReadCloser: stdout, cmd: cmd}, nil
}

type waitReadCloser struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (w *waitReadCloser) Close() error {
	_ = w.ReadCloser.Close()
	return w.cmd.Wait()
}

// OpenWrite runs the command and streams name's bytes to its stdin, the
// SEND side of EXEC.
func (a *Adapter) OpenWrite(ctx context.Context, name string, size int64) (io.WriteCloser, error) {
	cmd := exec.CommandContext(ctx, a.command, append(append([]string{}, a.args...), name)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errkind.New(errkind.LocalIO, "execproto.stdin_pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errkind.New(errkind.LocalIO, "execproto.start", err)
	}
	return &waitWriteCloser{WriteCloser: stdin, cmd: cmd}, nil
}

type waitWriteCloser struct {
	io.WriteCloser
	cmd *exec.Cmd
}

func (w *waitWriteCloser) Close() error {
	_ = w.WriteCloser.Close()
	return w.cmd.Wait()
}

func (a *Adapter) DeleteRemote(ctx context.Context, name string) error { return nil }

func (a *Adapter) RenameRemote(ctx context.Context, from, to string) error { return nil }

func (a *Adapter) Noop(ctx context.Context) error { return nil }

// Quit is a no-op: each OpenRead/OpenWrite owns and waits on its own
// child process.
func (a *Adapter) Quit(ctx context.Context) error { return nil }
