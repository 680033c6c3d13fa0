package main

import (
	"github.com/afdproject/afd/internal/protocol"
	"github.com/afdproject/afd/internal/protocol/execproto"
	"github.com/afdproject/afd/internal/protocol/ftpproto"
	"github.com/afdproject/afd/internal/protocol/httpproto"
	"github.com/afdproject/afd/internal/protocol/locproto"
	"github.com/afdproject/afd/internal/protocol/sftpproto"
	"github.com/afdproject/afd/internal/protocol/smtpproto"
	"github.com/afdproject/afd/internal/protocol/wireformat"
)

// newDefaultRegistry wires every adapter package's Dialer into one
// protocol.Registry. This is the only package allowed to import every
// concrete adapter package at once (protocol.NewRegistryFrom itself
// stays adapter-agnostic to avoid an import cycle).
func newDefaultRegistry() *protocol.Registry {
	return protocol.NewRegistryFrom(protocol.Dialers{
		"ftp":    ftpproto.New,
		"ftps":   ftpproto.New,
		"sftp":   sftpproto.New,
		"scp":    sftpproto.New,
		"http":   httpproto.New,
		"https":  httpproto.New,
		"loc":    locproto.New,
		"file":   locproto.New,
		"exec":   execproto.New,
		"smtp":   smtpproto.New,
		"smtps":  smtpproto.New,
		"wmo":    wireformat.NewWMO,
		"map":    wireformat.NewMAP,
		"dfax":   wireformat.NewDFAX,
		"demail": wireformat.NewDEMail,
	})
}
