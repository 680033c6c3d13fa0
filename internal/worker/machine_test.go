package worker

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afdproject/afd/internal/dupcheck"
	"github.com/afdproject/afd/internal/protocol"
	"github.com/afdproject/afd/internal/retrieve"
	"github.com/afdproject/afd/internal/translog"
)

type nopCloserBuf struct{ *bytes.Buffer }

func (nopCloserBuf) Close() error { return nil }

type fakeAdapter struct {
	connected   bool
	loggedIn    bool
	dir         string
	written     map[string][]byte
	renamed     map[string]string
	listing     []protocol.FileInfo
	remoteFiles map[string][]byte
	failOpen    bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{written: map[string][]byte{}, renamed: map[string]string{}, remoteFiles: map[string][]byte{}}
}

func (f *fakeAdapter) Connect(ctx context.Context) error { f.connected = true; return nil }
func (f *fakeAdapter) Login(ctx context.Context) error   { f.loggedIn = true; return nil }
func (f *fakeAdapter) ChangeDir(ctx context.Context, dir string) error {
	f.dir = dir
	return nil
}
func (f *fakeAdapter) List(ctx context.Context, dir string) ([]protocol.FileInfo, error) {
	return f.listing, nil
}
func (f *fakeAdapter) StatRemote(ctx context.Context, name string) (protocol.FileInfo, error) {
	return protocol.FileInfo{}, nil
}
func (f *fakeAdapter) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	data, ok := f.remoteFiles[name]
	if !ok {
		return nil, assertErr("no such remote file: " + name)
	}
	return nopCloserBuf{bytes.NewBuffer(data)}, nil
}
func (f *fakeAdapter) OpenWrite(ctx context.Context, name string, size int64) (io.WriteCloser, error) {
	if f.failOpen {
		return nil, assertErr("open_write failed")
	}
	buf := &bytes.Buffer{}
	f.written[name] = nil
	return &capturingWriter{f: f, name: name, buf: buf}, nil
}
func (f *fakeAdapter) DeleteRemote(ctx context.Context, name string) error { return nil }
func (f *fakeAdapter) RenameRemote(ctx context.Context, from, to string) error {
	f.renamed[from] = to
	f.written[to] = f.written[from]
	delete(f.written, from)
	return nil
}
func (f *fakeAdapter) Noop(ctx context.Context) error { return nil }
func (f *fakeAdapter) Quit(ctx context.Context) error { return nil }

type capturingWriter struct {
	f    *fakeAdapter
	name string
	buf  *bytes.Buffer
}

func (w *capturingWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *capturingWriter) Close() error {
	w.f.written[w.name] = w.buf.Bytes()
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fixedLister struct{ files []LocalFile }

func (f fixedLister) ListLocal(dir string, filters []string) ([]LocalFile, error) {
	return f.files, nil
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "test")
}

func writeLocalFile(t *testing.T, dir, name, content string) LocalFile {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return LocalFile{Name: name, Path: path, Size: int64(len(content))}
}

func TestRunBatchSendWritesAndLogsSuccess(t *testing.T) {
	dir := t.TempDir()
	f := writeLocalFile(t, dir, "report.csv", "hello world")

	adapter := newFakeAdapter()
	var logBuf bytes.Buffer
	m := &Machine{
		Adapter:  adapter,
		Log:      testLog(),
		TransLog: translog.New(&logBuf),
		Lister:   fixedLister{files: []LocalFile{f}},
	}

	res := m.RunBatch(context.Background(), Job{JobID: 1, RemoteDir: "in", LocalDir: dir}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.FilesTotal)
	assert.Equal(t, int64(len("hello world")), res.BytesTotal)
	assert.Equal(t, "hello world", string(adapter.written["report.csv"]))
	assert.True(t, adapter.connected)
	assert.True(t, adapter.loggedIn)
	assert.Contains(t, logBuf.String(), `"sign":"="`)
}

func TestRunBatchAppliesDotPrefixRenameDiscipline(t *testing.T) {
	dir := t.TempDir()
	f := writeLocalFile(t, dir, "report.csv", "x")

	adapter := newFakeAdapter()
	m := &Machine{Adapter: adapter, Log: testLog(), TransLog: translog.New(io.Discard), Lister: fixedLister{files: []LocalFile{f}}}

	res := m.RunBatch(context.Background(), Job{RemoteDir: "in", LocalDir: dir, LockDiscipline: LockDotPrefixRename}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "report.csv", adapter.renamed[".report.csv"])
	assert.Contains(t, adapter.written, "report.csv")
}

func TestRunBatchAbortsOnErrorWhenPolicyAbort(t *testing.T) {
	dir := t.TempDir()
	f := writeLocalFile(t, dir, "report.csv", "x")

	adapter := newFakeAdapter()
	adapter.failOpen = true
	m := &Machine{Adapter: adapter, Log: testLog(), TransLog: translog.New(io.Discard), Lister: fixedLister{files: []LocalFile{f}}}

	res := m.RunBatch(context.Background(), Job{RemoteDir: "in", LocalDir: dir, BatchPolicy: PolicyAbortOnError}, nil)
	assert.Error(t, res.Err)
}

func TestRunBatchSkipsOnErrorWhenPolicySkip(t *testing.T) {
	dir := t.TempDir()
	f1 := writeLocalFile(t, dir, "a.csv", "x")

	adapter := newFakeAdapter()
	adapter.failOpen = true
	m := &Machine{Adapter: adapter, Log: testLog(), TransLog: translog.New(io.Discard), Lister: fixedLister{files: []LocalFile{f1}}}

	res := m.RunBatch(context.Background(), Job{RemoteDir: "in", LocalDir: dir, BatchPolicy: PolicySkipOnError}, nil)
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, res.FilesTotal)
}

func TestRunBatchDuplicateSkipsSecondSend(t *testing.T) {
	dir := t.TempDir()
	f := writeLocalFile(t, dir, "report.csv", "x")

	adapter := newFakeAdapter()
	dup := dupcheck.New(time.Minute)
	m := &Machine{Adapter: adapter, Log: testLog(), TransLog: translog.New(io.Discard), Lister: fixedLister{files: []LocalFile{f}}, Dup: dup}

	job := Job{RemoteDir: "in", LocalDir: dir, DupVariant: dupcheck.CRC32, DupPolicy: dupcheck.PolicyStore}
	first := m.RunBatch(context.Background(), job, nil)
	assert.Equal(t, 1, first.FilesTotal)

	second := m.RunBatch(context.Background(), job, nil)
	assert.Equal(t, 0, second.FilesTotal)
}

func TestRunBatchRetrieveFetchesNewEntries(t *testing.T) {
	dir := t.TempDir()
	adapter := newFakeAdapter()
	adapter.listing = []protocol.FileInfo{{Name: "a.txt"}, {Name: "b.txt"}}
	adapter.remoteFiles = map[string][]byte{"a.txt": []byte("AAA"), "b.txt": []byte("BBB")}

	store := retrieve.New("unused", retrieve.ModeGetOnceOnly)
	m := &Machine{Adapter: adapter, Log: testLog(), TransLog: translog.New(io.Discard), Retrieve: store}

	res := m.RunBatch(context.Background(), Job{RemoteDir: "out", LocalDir: dir, IsRetrieve: true}, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.FilesTotal)
	assert.FileExists(t, filepath.Join(dir, "a.txt"))
	assert.FileExists(t, filepath.Join(dir, "b.txt"))

	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "AAA", string(content))
}

func TestConnectOnceSkipsLoginOnSecondBatch(t *testing.T) {
	dir := t.TempDir()
	adapter := newFakeAdapter()
	m := &Machine{Adapter: adapter, Log: testLog(), TransLog: translog.New(io.Discard), Lister: fixedLister{}}

	m.RunBatch(context.Background(), Job{RemoteDir: "in", LocalDir: dir}, nil)
	adapter.loggedIn = false // second batch must not re-trigger login
	m.RunBatch(context.Background(), Job{RemoteDir: "in2", LocalDir: dir}, nil)
	assert.False(t, adapter.loggedIn)
	assert.Equal(t, "in2", adapter.dir)
}
