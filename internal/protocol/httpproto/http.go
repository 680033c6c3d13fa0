// Package httpproto adapts plain HTTP/HTTPS directory listings and GET/PUT
// transfers to protocol.Adapter, grounded on the teacher's read-only HTTP
// backend's anchor-tag directory parsing.
package httpproto

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/protocol"
)

// Adapter drives one HTTP(S) recipient. Unlike FTP/SFTP there is no
// persistent control connection: each operation is an independent
// request over a shared *http.Client.
type Adapter struct {
	base   *url.URL
	client *http.Client
	dir    string
}

// New parses rawURL as the base endpoint. Registered under "http" and
// "https".
func New(rawURL string) (protocol.Adapter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errkind.New(errkind.ProtocolBug, "httpproto.parse", err)
	}
	return &Adapter{base: u, client: &http.Client{Timeout: 60 * time.Second}}, nil
}

// Connect is a no-op: HTTP has no persistent session to establish.
func (a *Adapter) Connect(ctx context.Context) error { return nil }

// Login is a no-op for anonymous/basic-auth-via-userinfo endpoints; a
// userinfo component in the URL is applied per-request by net/http.
func (a *Adapter) Login(ctx context.Context) error { return nil }

// ChangeDir records dir as the path prefix for subsequent operations.
func (a *Adapter) ChangeDir(ctx context.Context, dir string) error {
	a.dir = dir
	return nil
}

func (a *Adapter) urlFor(name string) string {
	u := *a.base
	u.Path = path.Join(u.Path, a.dir, name)
	return u.String()
}

func statusError(op string, res *http.Response, err error) error {
	if err != nil {
		return errkind.New(errkind.Transient, op, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		_ = res.Body.Close()
		return errkind.New(errkind.RemoteSemantic, op, fmt.Errorf("http status %s", res.Status))
	}
	return nil
}

// List fetches dir's HTML index and extracts anchor hrefs, matching the
// teacher's http backend's directory-as-index-page model.
func (a *Adapter) List(ctx context.Context, dir string) ([]protocol.FileInfo, error) {
	target := a.urlFor(dir) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errkind.New(errkind.ProtocolBug, "httpproto.list", err)
	}
	res, err := a.client.Do(req)
	if err := statusError("httpproto.list", res, err); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	base, _ := url.Parse(target)
	names, err := parseHrefs(base, res.Body)
	if err != nil {
		return nil, errkind.New(errkind.RemoteSemantic, "httpproto.list", err)
	}
	out := make([]protocol.FileInfo, 0, len(names))
	for _, n := range names {
		isDir := strings.HasSuffix(n, "/")
		out = append(out, protocol.FileInfo{Name: strings.TrimSuffix(n, "/"), IsDir: isDir})
	}
	return out, nil
}

// parseHrefs walks the parsed HTML document for <a href> entries,
// resolving each relative to base and deduplicating, the same walk the
// teacher's http backend performs.
func parseHrefs(base *url.URL, r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := base.Parse(attr.Val)
				if err != nil {
					break
				}
				if ref.Host != base.Host || !strings.HasPrefix(ref.Path, base.Path) {
					break
				}
				name := strings.TrimPrefix(ref.Path, base.Path)
				if name == "" || strings.Contains(name, "/") && !strings.HasSuffix(name, "/") {
					break
				}
				if _, ok := seen[name]; !ok {
					seen[name] = struct{}{}
					names = append(names, name)
				}
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return names, nil
}

// StatRemote issues a HEAD request.
func (a *Adapter) StatRemote(ctx context.Context, name string) (protocol.FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.urlFor(name), nil)
	if err != nil {
		return protocol.FileInfo{}, errkind.New(errkind.ProtocolBug, "httpproto.stat", err)
	}
	res, err := a.client.Do(req)
	if err := statusError("httpproto.stat", res, err); err != nil {
		return protocol.FileInfo{}, err
	}
	defer res.Body.Close()
	fi := protocol.FileInfo{Name: name, Size: res.ContentLength}
	if t, err := http.ParseTime(res.Header.Get("Last-Modified")); err == nil {
		fi.ModTime = t
	}
	return fi, nil
}

// OpenRead issues GET and streams the response body.
func (a *Adapter) OpenRead(ctx context.Context, name string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.urlFor(name), nil)
	if err != nil {
		return nil, errkind.New(errkind.ProtocolBug, "httpproto.get", err)
	}
	res, err := a.client.Do(req)
	if err := statusError("httpproto.get", res, err); err != nil {
		return nil, err
	}
	return res.Body, nil
}

// OpenWrite issues PUT with a streaming request body.
func (a *Adapter) OpenWrite(ctx context.Context, name string, size int64) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	doneCh := make(chan error, 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.urlFor(name), pr)
	if err != nil {
		return nil, errkind.New(errkind.ProtocolBug, "httpproto.put", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	go func() {
		res, err := a.client.Do(req)
		doneCh <- statusError("httpproto.put", res, err)
		if res != nil {
			_ = res.Body.Close()
		}
	}()
	return &putWriter{pw: pw, done: doneCh}, nil
}

type putWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *putWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *putWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

// DeleteRemote issues DELETE; most plain HTTP servers reject this, the
// error surfaces as RemoteSemantic rather than being special-cased.
func (a *Adapter) DeleteRemote(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.urlFor(name), nil)
	if err != nil {
		return errkind.New(errkind.ProtocolBug, "httpproto.delete", err)
	}
	res, err := a.client.Do(req)
	return statusError("httpproto.delete", res, err)
}

// RenameRemote has no HTTP equivalent; plain HTTP recipients never
// select a lock discipline that requires it.
func (a *Adapter) RenameRemote(ctx context.Context, from, to string) error {
	return errkind.New(errkind.ProtocolBug, "httpproto.rename", fmt.Errorf("rename unsupported over plain HTTP"))
}

// Noop issues a HEAD on the base URL to confirm reachability.
func (a *Adapter) Noop(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.base.String(), nil)
	if err != nil {
		return errkind.New(errkind.ProtocolBug, "httpproto.noop", err)
	}
	res, err := a.client.Do(req)
	if res != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		return errkind.New(errkind.Transient, "httpproto.noop", err)
	}
	return nil
}

// Quit is a no-op: there is no persistent connection to release.
func (a *Adapter) Quit(ctx context.Context) error { return nil }
