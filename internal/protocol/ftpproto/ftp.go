// Package ftpproto adapts github.com/jlaffaye/ftp to the protocol.Adapter
// capability set for FTP and FTPS recipients.
package ftpproto

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/pacer"
	"github.com/afdproject/afd/internal/protocol"
)

// Options configures one FTP/FTPS adapter instance, parsed from the
// recipient URL. New does not set ExplicitTLS or SkipVerifyTLSCert.
type Options struct {
	Host              string
	Port              string
	User              string
	Pass              string
	TLS               bool
	ExplicitTLS       bool
	SkipVerifyTLSCert bool
	DialTimeout       time.Duration
}

// Adapter drives one FTP session. A single adapter corresponds to one
// worker's connection, reused across a burst chain.
type Adapter struct {
	opt  Options
	conn *ftp.ServerConn
}

// New parses rawURL into Options and returns an unconnected Adapter.
// Registered in the protocol.Registry under "ftp" and "ftps".
func New(rawURL string) (protocol.Adapter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errkind.New(errkind.ProtocolBug, "ftpproto.parse", err)
	}
	opt := Options{
		Host:        u.Hostname(),
		Port:        u.Port(),
		DialTimeout: 30 * time.Second,
	}
	if opt.Port == "" {
		opt.Port = "21"
	}
	if u.User != nil {
		opt.User = u.User.Username()
		opt.Pass, _ = u.User.Password()
	}
	if u.Scheme == "ftps" {
		opt.TLS = true
	}
	return &Adapter{opt: opt}, nil
}

// isRetriableFtpError mirrors the teacher's FTP backend: a handful of
// textproto status codes mean "try again", everything else is final.
func isRetriableFtpError(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case ftp.StatusNotAvailable, ftp.StatusTransfertAborted:
			return true
		}
	}
	return false
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isRetriableFtpError(err) {
		return errkind.New(errkind.Transient, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errkind.New(errkind.Transient, op, err)
	}
	return errkind.New(errkind.RemoteSemantic, op, err)
}

func (a *Adapter) tlsConfig() *tls.Config {
	if !a.opt.TLS && !a.opt.ExplicitTLS {
		return nil
	}
	return &tls.Config{ServerName: a.opt.Host, InsecureSkipVerify: a.opt.SkipVerifyTLSCert}
}

// Connect dials the control connection, retrying transient failures with
// the shared attack/decay pacer (grounded on the teacher's FTP backend
// pacer.Call around ftp.Dial+Login).
func (a *Adapter) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(a.opt.Host, a.opt.Port)
	opts := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(a.opt.DialTimeout)}
	if tlsCfg := a.tlsConfig(); tlsCfg != nil {
		if a.opt.ExplicitTLS {
			opts = append(opts, ftp.DialWithExplicitTLS(tlsCfg))
		} else {
			opts = append(opts, ftp.DialWithTLS(tlsCfg))
		}
	}

	p := pacer.New()
	var conn *ftp.ServerConn
	var err error
	for {
		conn, err = ftp.Dial(addr, opts...)
		if err == nil {
			break
		}
		if !isRetriableFtpError(err) || p.ConsecutiveFailures() >= 5 {
			return classify("ftpproto.connect", err)
		}
		time.Sleep(p.Fail())
	}
	a.conn = conn
	return nil
}

// Login authenticates the already-dialed control connection.
func (a *Adapter) Login(ctx context.Context) error {
	if a.conn == nil {
		return errkind.New(errkind.ProtocolBug, "ftpproto.login", fmt.Errorf("not connected"))
	}
	if err := a.conn.Login(a.opt.User, a.opt.Pass); err != nil {
		_ = a.conn.Quit()
		return errkind.New(errkind.Auth, "ftpproto.login", err)
	}
	return nil
}

// ChangeDir issues CWD.
func (a *Adapter) ChangeDir(ctx context.Context, dir string) error {
	if err := a.conn.ChangeDir(dir); err != nil {
		return classify("ftpproto.cwd", err)
	}
	return nil
}

// List issues MLSD/LIST via the jlaffaye/ftp client.
func (a *Adapter) List(ctx context.Context, dir string) ([]protocol.FileInfo, error) {
	entries, err := a.conn.List(dir)
	if err != nil {
		return nil, classify("ftpproto.list", err)
	}
	out := make([]protocol.FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.FileInfo{
			Name:    e.Name,
			Size:    int64(e.Size),
			ModTime: e.Time,
			IsDir:   e.Type == ftp.EntryTypeFolder,
		})
	}
	return out, nil
}

// StatRemote finds one entry by listing its parent, the way the FTP
// protocol's lack of a dedicated stat verb forces every client to.
func (a *Adapter) StatRemote(ctx context.Context, name string) (protocol.FileInfo, error) {
	dir, base := splitPath(name)
	entries, err := a.List(ctx, dir)
	if err != nil {
		return protocol.FileInfo{}, err
	}
	for _, e := range entries {
		if e.Name == base {
			return e, nil
		}
	}
	return protocol.FileInfo{}, errkind.New(errkind.RemoteSemantic, "ftpproto.stat", fmt.Errorf("%s: not found", name))
}

// OpenRead issues RETR and returns a stream whose Close also closes the
// data connection.
func (a *Adapter) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := a.conn.Retr(name)
	if err != nil {
		return nil, classify("ftpproto.retr", err)
	}
	return r, nil
}

// OpenWrite issues STOR. size is advisory; jlaffaye/ftp streams the
// write, so it is not pre-announced to the server.
func (a *Adapter) OpenWrite(ctx context.Context, name string, size int64) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.conn.Stor(name, pr)
	}()
	return &storWriter{pw: pw, errCh: errCh}, nil
}

type storWriter struct {
	pw    *io.PipeWriter
	errCh chan error
}

func (w *storWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *storWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return classify("ftpproto.stor", err)
	}
	if err := <-w.errCh; err != nil {
		return classify("ftpproto.stor", err)
	}
	return nil
}

// DeleteRemote issues DELE.
func (a *Adapter) DeleteRemote(ctx context.Context, name string) error {
	if err := a.conn.Delete(name); err != nil {
		return classify("ftpproto.dele", err)
	}
	return nil
}

// RenameRemote issues RNFR/RNTO, the mechanism behind the
// dot-prefix-then-rename lock discipline spec.md §4.D names.
func (a *Adapter) RenameRemote(ctx context.Context, from, to string) error {
	if err := a.conn.Rename(from, to); err != nil {
		return classify("ftpproto.rnfr", err)
	}
	return nil
}

// Noop issues NOOP, used for pool health checks and keep-connected idle
// pings.
func (a *Adapter) Noop(ctx context.Context) error {
	if err := a.conn.NoOp(); err != nil {
		return classify("ftpproto.noop", err)
	}
	return nil
}

// Quit issues QUIT and releases the control connection.
func (a *Adapter) Quit(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Quit()
	a.conn = nil
	if err != nil {
		return classify("ftpproto.quit", err)
	}
	return nil
}

func splitPath(name string) (dir, base string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[:i], name[i+1:]
		}
	}
	return "", name
}
