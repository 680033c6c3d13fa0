// Package wireformat registers the adapter interface's seam for the
// domain-specific wire formats spec.md §4.E lists alongside the general
// transports: WMO (meteorological bulletins), MAP, DFAX and DE-Mail.
// Only the interface these fill is specified here — their bit-level
// framing belongs to site-specific codecs this module does not carry.
// Each stub fails closed with a clear diagnostic rather than silently
// accepting a recipient it cannot actually serve.
package wireformat

import (
	"context"
	"fmt"
	"io"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/protocol"
)

// Stub implements protocol.Adapter by refusing every operation, naming
// the scheme it was asked to serve. Registering a real codec for one of
// these schemes means replacing its entry in the registry, not editing
// this type.
type Stub struct {
	Scheme string
}

// NewWMO, NewMAP, NewDFAX and NewDEMail all return a Stub; they exist
// as distinct constructors so the registry's scheme table stays
// self-documenting about which wire formats spec.md names as out of
// scope for this build.
func NewWMO(rawURL string) (protocol.Adapter, error)    { return &Stub{Scheme: "wmo"}, nil }
func NewMAP(rawURL string) (protocol.Adapter, error)    { return &Stub{Scheme: "map"}, nil }
func NewDFAX(rawURL string) (protocol.Adapter, error)   { return &Stub{Scheme: "dfax"}, nil }
func NewDEMail(rawURL string) (protocol.Adapter, error) { return &Stub{Scheme: "demail"}, nil }

func (s *Stub) unsupported(op string) error {
	return errkind.New(errkind.ProtocolBug, op, fmt.Errorf("%s: wire format codec not built into this module", s.Scheme))
}

func (s *Stub) Connect(ctx context.Context) error { return s.unsupported("wireformat.connect") }
func (s *Stub) Login(ctx context.Context) error   { return s.unsupported("wireformat.login") }

func (s *Stub) ChangeDir(ctx context.Context, dir string) error {
	return s.unsupported("wireformat.change_dir")
}

func (s *Stub) List(ctx context.Context, dir string) ([]protocol.FileInfo, error) {
	return nil, s.unsupported("wireformat.list")
}

func (s *Stub) StatRemote(ctx context.Context, name string) (protocol.FileInfo, error) {
	return protocol.FileInfo{}, s.unsupported("wireformat.stat_remote")
}

func (s *Stub) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	return nil, s.unsupported("wireformat.open_read")
}

func (s *Stub) OpenWrite(ctx context.Context, name string, size int64) (io.WriteCloser, error) {
	return nil, s.unsupported("wireformat.open_write")
}

func (s *Stub) DeleteRemote(ctx context.Context, name string) error {
	return s.unsupported("wireformat.delete_remote")
}

func (s *Stub) RenameRemote(ctx context.Context, from, to string) error {
	return s.unsupported("wireformat.rename_remote")
}

func (s *Stub) Noop(ctx context.Context) error { return s.unsupported("wireformat.noop") }
func (s *Stub) Quit(ctx context.Context) error { return nil }
