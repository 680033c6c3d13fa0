package scheduler

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdproject/afd/internal/ipc"
	"github.com/afdproject/afd/internal/statearea"
)

// fakeScanner never finds new files; the scheduler tests below exercise
// admission/burst/shutdown, not directory scanning.
type fakeScanner struct{}

func (fakeScanner) Scan(statearea.Directory) ([]ScannedFile, error) { return nil, nil }

// fakeHandle is an in-memory WorkerHandle: SendBurst/AwaitACK round-trip
// through channels instead of a real fifo, and Completions fires once
// Finish is called, modelling the worker's FIN at the end of its burst
// chain.
type fakeHandle struct {
	pid         int
	bursts      chan ipc.BurstDescriptor
	acks        chan ipc.BurstACK
	completions chan ipc.FINRecord
	terminated  bool
	killed      bool
	mu          sync.Mutex
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{
		pid:         pid,
		bursts:      make(chan ipc.BurstDescriptor, 4),
		acks:        make(chan ipc.BurstACK, 4),
		completions: make(chan ipc.FINRecord, 1),
	}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) SendBurst(d ipc.BurstDescriptor) error {
	h.bursts <- d
	h.acks <- ipc.BurstACK{JobID: d.JobID}
	return nil
}

func (h *fakeHandle) AwaitACK() (ipc.BurstACK, error) {
	return <-h.acks, nil
}

func (h *fakeHandle) Completions() <-chan ipc.FINRecord { return h.completions }

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = true
	h.completions <- ipc.FINRecord{PID: int32(h.pid)}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	return nil
}

func (h *fakeHandle) Finish(fin ipc.FINRecord) {
	h.completions <- fin
}

// fakeLauncher spawns fakeHandles and records every DispatchJob it was
// asked to launch, so tests can assert a burst reused a connection
// instead of spawning a second one.
type fakeLauncher struct {
	mu      sync.Mutex
	nextPID int
	spawned []DispatchJob
}

func (l *fakeLauncher) Launch(job DispatchJob) (WorkerHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextPID++
	l.spawned = append(l.spawned, job)
	return newFakeHandle(l.nextPID), nil
}

func (l *fakeLauncher) spawnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.spawned)
}

type testFixture struct {
	dir string
	fsa *statearea.Ref[statearea.Host]
	fra *statearea.Ref[statearea.Directory]
	jid *statearea.Ref[statearea.JobID]
}

func newFixture(t *testing.T, hosts []statearea.Host, jobs []statearea.JobID) *testFixture {
	t.Helper()
	dir := t.TempDir()

	fsaPath := filepath.Join(dir, "fsa")
	require.NoError(t, statearea.Create(fsaPath, statearea.HostCodec{}, 1, len(hosts)))
	fsaArea, err := statearea.Attach(fsaPath, statearea.HostCodec{}, 1)
	require.NoError(t, err)
	require.NoError(t, fsaArea.PublishNew(hosts))
	fsaArea, err = statearea.Attach(fsaPath, statearea.HostCodec{}, 1)
	require.NoError(t, err)

	fraPath := filepath.Join(dir, "fra")
	require.NoError(t, statearea.Create(fraPath, statearea.DirectoryCodec{}, 1, 0))
	fraArea, err := statearea.Attach(fraPath, statearea.DirectoryCodec{}, 1)
	require.NoError(t, err)

	jidPath := filepath.Join(dir, "jid")
	require.NoError(t, statearea.Create(jidPath, statearea.JobIDCodec{}, 1, len(jobs)))
	jidArea, err := statearea.Attach(jidPath, statearea.JobIDCodec{}, 1)
	require.NoError(t, err)
	require.NoError(t, jidArea.PublishNew(jobs))
	jidArea, err = statearea.Attach(jidPath, statearea.JobIDCodec{}, 1)
	require.NoError(t, err)

	return &testFixture{
		dir: dir,
		fsa: statearea.NewRef(fsaArea),
		fra: statearea.NewRef(fraArea),
		jid: statearea.NewRef(jidArea),
	}
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return logrus.NewEntry(l)
}

func makeHost(alias string, allowed uint16) statearea.Host {
	var h statearea.Host
	h.SetAlias(alias)
	h.Allowed = allowed
	h.MaxParallel = allowed
	return h
}

func makeJob(jobID, dirID uint32, recipientURL string, priority byte) statearea.JobID {
	var j statearea.JobID
	j.JobID = jobID
	j.DirID = dirID
	j.SetRecipientURL(recipientURL)
	j.Priority = priority
	return j
}

// TestBurstReuse exercises scenario S1: two jobs queued for the same
// host/protocol/credentials should share one spawned worker via burst
// chaining rather than opening a second connection.
func TestBurstReuse(t *testing.T) {
	fx := newFixture(t, []statearea.Host{makeHost("archive1", 1)}, []statearea.JobID{
		makeJob(100, 1, "ftp://user@archive1/in", '5'),
		makeJob(101, 1, "ftp://user@archive1/in", '5'),
	})
	launcher := &fakeLauncher{}
	sched := New(DefaultConfig(), fx.fsa, fx.fra, fx.jid, launcher, fakeScanner{}, testLogger())

	require.NoError(t, sched.Enqueue(100))
	require.NoError(t, sched.Enqueue(101))

	now := time.Now()
	sched.admissionPass(now)
	sched.admissionPass(now)

	assert.Equal(t, 1, launcher.spawnCount(), "second job should burst onto the first worker, not spawn a new one")
	assert.Equal(t, 0, sched.queue.Len())
}

// TestHostStatusBlocksDispatch verifies a disabled host never receives a
// dispatch even with jobs queued and capacity available.
func TestHostStatusBlocksDispatch(t *testing.T) {
	h := makeHost("offsite", 1)
	h.HostStatus = statearea.HostDisabled
	fx := newFixture(t, []statearea.Host{h}, []statearea.JobID{
		makeJob(200, 2, "ftp://user@offsite/in", '5'),
	})
	launcher := &fakeLauncher{}
	sched := New(DefaultConfig(), fx.fsa, fx.fra, fx.jid, launcher, fakeScanner{}, testLogger())

	require.NoError(t, sched.Enqueue(200))
	sched.admissionPass(time.Now())

	assert.Equal(t, 0, launcher.spawnCount())
	assert.Equal(t, 1, sched.queue.Len())
}

// TestAdmissionRespectsAllowedLimit ensures a host at its allowed
// concurrency ceiling does not receive a second distinct-credential
// dispatch beyond its capacity.
func TestAdmissionRespectsAllowedLimit(t *testing.T) {
	fx := newFixture(t, []statearea.Host{makeHost("busy", 1)}, []statearea.JobID{
		makeJob(300, 3, "ftp://alice@busy/in", '5'),
		makeJob(301, 3, "ftp://bob@busy/in", '5'),
	})
	launcher := &fakeLauncher{}
	sched := New(DefaultConfig(), fx.fsa, fx.fra, fx.jid, launcher, fakeScanner{}, testLogger())

	require.NoError(t, sched.Enqueue(300))
	require.NoError(t, sched.Enqueue(301))

	sched.admissionPass(time.Now())
	sched.admissionPass(time.Now())

	assert.Equal(t, 1, launcher.spawnCount(), "different credentials cannot burst-share a connection")
	assert.Equal(t, 1, sched.queue.Len(), "second job stays queued until the host frees a slot")
}

// TestHostToggleAfterMaxErrors exercises spec.md's host-toggle policy:
// after MaxErrors consecutive failed completions the active hostname
// flips.
func TestHostToggleAfterMaxErrors(t *testing.T) {
	h := makeHost("flaky", 2)
	h.RealHostName1 = [64]byte{}
	h.RealHostName2 = [64]byte{}
	copy(h.RealHostName1[:], "primary.example.com")
	copy(h.RealHostName2[:], "secondary.example.com")
	fx := newFixture(t, []statearea.Host{h}, nil)

	cfg := DefaultConfig()
	cfg.MaxErrors = 2
	sched := New(cfg, fx.fsa, fx.fra, fx.jid, &fakeLauncher{}, fakeScanner{}, testLogger())

	for i := 0; i < 2; i++ {
		sched.handleCompletion("flaky", ipc.FINRecord{ExitKind: 10})
	}

	pos, err := fx.fsa.LookupBy(func(v statearea.Host) bool { return v.GetAlias() == "flaky" })
	require.NoError(t, err)
	got, err := fx.fsa.Get(pos)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), got.ToggleActive, "host should have toggled to its secondary hostname")
	assert.Equal(t, "secondary.example.com", got.ActiveRealHostName())
}

// TestShutdownDrainsQueueAndTerminatesWorkers exercises scenario S6: a
// scheduler shutdown must drop queued-but-undispatched jobs for every
// host and terminate any live burst worker rather than leaving it
// running.
func TestShutdownDrainsQueueAndTerminatesWorkers(t *testing.T) {
	fx := newFixture(t, []statearea.Host{makeHost("site", 1)}, []statearea.JobID{
		makeJob(400, 4, "ftp://user@site/in", '5'),
		makeJob(401, 4, "ftp://user@site/in", '5'),
	})
	launcher := &fakeLauncher{}
	sched := New(DefaultConfig(), fx.fsa, fx.fra, fx.jid, launcher, fakeScanner{}, testLogger())

	require.NoError(t, sched.Enqueue(400))
	sched.admissionPass(time.Now())
	require.Equal(t, 1, launcher.spawnCount())

	require.NoError(t, sched.Enqueue(401))

	sched.Shutdown()

	hr := sched.hostRuntimeFor("site")
	assert.Nil(t, hr.burst, "burst worker slot cleared after shutdown terminates it")
	assert.Equal(t, 0, sched.queue.Len(), "remaining queued job for the host is dropped on shutdown")
}
