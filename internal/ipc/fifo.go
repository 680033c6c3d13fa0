// Package ipc implements the named-pipe control channels spec.md §6
// describes: the supervisor command/reply fifos, the scheduler command
// fifo, and the worker completion (FIN) fifo.
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/afdproject/afd/internal/errkind"
)

// ShutdownSignal is the signal the supervisor sends a child role to ask
// it to stop gracefully (spec.md §4.I "afd stop").
const ShutdownSignal = syscall.SIGTERM

// MakeFifo creates a named pipe at path if one doesn't already exist.
func MakeFifo(path string) error {
	err := unix.Mkfifo(path, 0o600)
	if err != nil && err != unix.EEXIST {
		return errkind.New(errkind.LocalIO, "ipc.mkfifo", err)
	}
	return nil
}

// Command is a one-byte control command sent on a command fifo (spec.md
// §6 "Command fifos (one-byte commands unless stated)").
type Command byte

// Supervisor command fifo values.
const (
	CmdStartAFD             Command = 'S'
	CmdStartAFDNoDirScan    Command = 'N'
	CmdStop                 Command = 'T'
	CmdShutdown             Command = 'D'
	CmdReloadDirConfig      Command = 'R'
	CmdReloadHostConfig     Command = 'H'
)

// Scheduler command fifo values.
const (
	CmdRescan      Command = 'r'
	CmdToggleHost  Command = 't'
	CmdPauseQueue  Command = 'p'
	CmdResumeQueue Command = 'u'
)

// Reply byte values on a reply fifo.
const (
	ReplyACK           byte = 0
	ReplyNoInstance    byte = 2
	ReplyErrorGeneric  byte = 1
)

// WriteCommand writes a single command byte to w.
func WriteCommand(w io.Writer, c Command) error {
	_, err := w.Write([]byte{byte(c)})
	if err != nil {
		return errkind.New(errkind.LocalIO, "ipc.write_command", err)
	}
	return nil
}

// ReadCommand reads a single command byte from r.
func ReadCommand(r io.Reader) (Command, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errkind.New(errkind.LocalIO, "ipc.read_command", err)
	}
	return Command(buf[0]), nil
}

// FINRecord is the completion record a transfer worker writes to the FIN
// fifo when it finishes a batch (spec.md §6 "Worker completion fifo
// (FIN): records {pid, exit_kind, bytes, files}").
type FINRecord struct {
	PID      int32
	ExitKind int32 // an errkind exit code (Kind.ExitCode()), or 0 for clean success
	Bytes    int64
	Files    int32
}

const finRecordSize = 4 + 4 + 8 + 4

// WriteFIN serializes and writes one FINRecord.
func WriteFIN(w io.Writer, r FINRecord) error {
	var buf [finRecordSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.PID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.ExitKind))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Bytes))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(r.Files))
	if _, err := w.Write(buf[:]); err != nil {
		return errkind.New(errkind.LocalIO, "ipc.write_fin", err)
	}
	return nil
}

// ReadFIN reads one FINRecord.
func ReadFIN(r io.Reader) (FINRecord, error) {
	var buf [finRecordSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FINRecord{}, errkind.New(errkind.LocalIO, "ipc.read_fin", err)
	}
	return FINRecord{
		PID:      int32(binary.LittleEndian.Uint32(buf[0:4])),
		ExitKind: int32(binary.LittleEndian.Uint32(buf[4:8])),
		Bytes:    int64(binary.LittleEndian.Uint64(buf[8:16])),
		Files:    int32(binary.LittleEndian.Uint32(buf[16:20])),
	}, nil
}

// BurstACK is the small record a bursting worker sends back to the
// scheduler to confirm it picked up a new job descriptor over its
// dedicated fifo (spec.md §4.C: "{timestamp, job-id, split-counter,
// unique-id}").
type BurstACK struct {
	Timestamp    int64
	JobID        uint32
	SplitCounter uint32
	UniqueID     uint32
}

const burstACKSize = 8 + 4 + 4 + 4

// WriteBurstACK serializes and writes one BurstACK.
func WriteBurstACK(w io.Writer, a BurstACK) error {
	var buf [burstACKSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(a.Timestamp))
	binary.LittleEndian.PutUint32(buf[8:12], a.JobID)
	binary.LittleEndian.PutUint32(buf[12:16], a.SplitCounter)
	binary.LittleEndian.PutUint32(buf[16:20], a.UniqueID)
	if _, err := w.Write(buf[:]); err != nil {
		return errkind.New(errkind.LocalIO, "ipc.write_burst_ack", err)
	}
	return nil
}

// ReadBurstACK reads one BurstACK.
func ReadBurstACK(r io.Reader) (BurstACK, error) {
	var buf [burstACKSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return BurstACK{}, errkind.New(errkind.LocalIO, "ipc.read_burst_ack", err)
	}
	return BurstACK{
		Timestamp:    int64(binary.LittleEndian.Uint64(buf[0:8])),
		JobID:        binary.LittleEndian.Uint32(buf[8:12]),
		SplitCounter: binary.LittleEndian.Uint32(buf[12:16]),
		UniqueID:     binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// BurstDescriptor is what the scheduler sends down a burstable worker's
// dedicated fifo to hand it the next job without a new connect+login.
type BurstDescriptor struct {
	JobID uint32
	DirID uint32
}

const burstDescriptorSize = 4 + 4

// WriteBurstDescriptor serializes and writes one BurstDescriptor.
func WriteBurstDescriptor(w io.Writer, d BurstDescriptor) error {
	var buf [burstDescriptorSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], d.JobID)
	binary.LittleEndian.PutUint32(buf[4:8], d.DirID)
	if _, err := w.Write(buf[:]); err != nil {
		return errkind.New(errkind.LocalIO, "ipc.write_burst_descriptor", err)
	}
	return nil
}

// ReadBurstDescriptor reads one BurstDescriptor.
func ReadBurstDescriptor(r io.Reader) (BurstDescriptor, error) {
	var buf [burstDescriptorSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return BurstDescriptor{}, errkind.New(errkind.LocalIO, "ipc.read_burst_descriptor", err)
	}
	return BurstDescriptor{
		JobID: binary.LittleEndian.Uint32(buf[0:4]),
		DirID: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// ReplyWriter wraps the open reply fifo for one accepted command.
type ReplyWriter struct {
	f *os.File
}

// NewReplyWriter wraps an already-open file as a ReplyWriter, for
// callers (and tests) that obtained the reply fifo's write end some way
// other than AcceptCommand.
func NewReplyWriter(f *os.File) *ReplyWriter { return &ReplyWriter{f: f} }

// Write sends one reply byte.
func (r *ReplyWriter) Write(b byte) error {
	_, err := r.f.Write([]byte{b})
	if err != nil {
		return errkind.New(errkind.LocalIO, "ipc.reply_write", err)
	}
	return nil
}

// Close releases the reply fifo's write end.
func (r *ReplyWriter) Close() error { return r.f.Close() }

// AcceptCommand opens cmdPath for reading with a deadline so callers can
// poll a cancellation context between attempts, reads one command byte,
// then opens replyPath for writing the response. A read that times out
// returns an error the caller treats as "nothing arrived this tick".
// Opening a fifo for read blocks until a writer is present on the other
// end, so the deadline only bounds the read itself, not this open call;
// a caller polling for shutdown must also be prepared for one blocked
// open per command cycle.
func AcceptCommand(cmdPath, replyPath string, timeout time.Duration) (Command, *ReplyWriter, error) {
	f, err := os.OpenFile(cmdPath, os.O_RDONLY, 0)
	if err != nil {
		return 0, nil, errkind.New(errkind.LocalIO, "ipc.accept_command", err)
	}
	defer f.Close()
	_ = f.SetReadDeadline(time.Now().Add(timeout))

	cmd, err := ReadCommand(f)
	if err != nil {
		return 0, nil, err
	}

	rf, err := os.OpenFile(replyPath, os.O_WRONLY, 0)
	if err != nil {
		return 0, nil, errkind.New(errkind.LocalIO, "ipc.accept_command_reply", err)
	}
	return cmd, &ReplyWriter{f: rf}, nil
}

// ErrNoInstance signals "no running instance detected" (spec.md §6 exit
// code 2): a command was addressed to an absent daemon (no command fifo
// present).
var ErrNoInstance = fmt.Errorf("ipc: no running instance (command fifo absent)")

// OpenReply opens path for reading a reply byte, translating ENOENT into
// ErrNoInstance per spec.md's exit-code contract.
func OpenReply(path string) (*os.File, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNoInstance
	}
	if err != nil {
		return nil, errkind.New(errkind.LocalIO, "ipc.open_reply", err)
	}
	return f, nil
}
