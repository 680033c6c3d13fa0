// Package smtpproto implements SMTP/SMTPS recipients (spec.md §4.E):
// SEND-only, one file per message as a MIME attachment. No third-party
// SMTP client appears anywhere in the corpus this module was grounded
// on; net/smtp plus mime/multipart cover the narrow "deliver one
// attachment" need without pulling in an unrelated dependency.
package smtpproto

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/protocol"
)

// Adapter delivers each OpenWrite call as a single outbound message.
type Adapter struct {
	host string
	port string
	from string
	to   string
	auth smtp.Auth
}

// New parses rawURL of the form smtp://from@host/to-address. Registered
// under "smtp" and "smtps" (TLS is not implemented; smtps recipients are
// rejected with a clear diagnostic rather than silently downgrading).
func New(rawURL string) (protocol.Adapter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errkind.New(errkind.ProtocolBug, "smtpproto.parse", err)
	}
	if u.Scheme == "smtps" {
		return nil, errkind.New(errkind.ProtocolBug, "smtpproto.parse", fmt.Errorf("smtps not supported, use smtp with an MTA that enforces STARTTLS"))
	}
	port := u.Port()
	if port == "" {
		port = "25"
	}
	from := ""
	if u.User != nil {
		from = u.User.Username()
	}
	return &Adapter{host: u.Hostname(), port: port, from: from, to: strings.TrimPrefix(u.Path, "/")}, nil
}

func (a *Adapter) Connect(ctx context.Context) error { return nil }
func (a *Adapter) Login(ctx context.Context) error   { return nil }

func (a *Adapter) ChangeDir(ctx context.Context, dir string) error { return nil }

func (a *Adapter) List(ctx context.Context, dir string) ([]protocol.FileInfo, error) {
	return nil, errkind.New(errkind.ProtocolBug, "smtpproto.list", fmt.Errorf("SMTP recipients are send-only"))
}

func (a *Adapter) StatRemote(ctx context.Context, name string) (protocol.FileInfo, error) {
	return protocol.FileInfo{}, errkind.New(errkind.ProtocolBug, "smtpproto.stat", fmt.Errorf("SMTP recipients are send-only"))
}

func (a *Adapter) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	return nil, errkind.New(errkind.ProtocolBug, "smtpproto.retrieve", fmt.Errorf("SMTP recipients are send-only"))
}

// OpenWrite buffers name's bytes into a MIME attachment and sends one
// message on Close; SMTP has no streaming-body primitive so the whole
// file is held in memory for the duration of one transfer.
func (a *Adapter) OpenWrite(ctx context.Context, name string, size int64) (io.WriteCloser, error) {
	return &mailWriter{a: a, name: name, buf: &bytes.Buffer{}}, nil
}

type mailWriter struct {
	a    *Adapter
	name string
	buf  *bytes.Buffer
}

func (w *mailWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *mailWriter) Close() error {
	var msg bytes.Buffer
	mw := multipart.NewWriter(&msg)
	fmt.Fprintf(&msg, "From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: multipart/mixed; boundary=%s\r\n\r\n", w.a.from, w.a.to, w.name, mw.Boundary())

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Content-Transfer-Encoding", "base64")
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", w.name))
	part, err := mw.CreatePart(header)
	if err != nil {
		return errkind.New(errkind.LocalIO, "smtpproto.mime", err)
	}
	enc := base64.NewEncoder(base64.StdEncoding, part)
	if _, err := enc.Write(w.buf.Bytes()); err != nil {
		return errkind.New(errkind.LocalIO, "smtpproto.mime", err)
	}
	if err := enc.Close(); err != nil {
		return errkind.New(errkind.LocalIO, "smtpproto.mime", err)
	}
	if err := mw.Close(); err != nil {
		return errkind.New(errkind.LocalIO, "smtpproto.mime", err)
	}

	addr := w.a.host + ":" + w.a.port
	if err := smtp.SendMail(addr, w.a.auth, w.a.from, []string{w.a.to}, msg.Bytes()); err != nil {
		return errkind.New(errkind.Transient, "smtpproto.send", err)
	}
	return nil
}

func (a *Adapter) DeleteRemote(ctx context.Context, name string) error {
	return errkind.New(errkind.ProtocolBug, "smtpproto.delete", fmt.Errorf("SMTP recipients are send-only"))
}

func (a *Adapter) RenameRemote(ctx context.Context, from, to string) error {
	return errkind.New(errkind.ProtocolBug, "smtpproto.rename", fmt.Errorf("SMTP recipients are send-only"))
}

func (a *Adapter) Noop(ctx context.Context) error { return nil }
func (a *Adapter) Quit(ctx context.Context) error { return nil }
