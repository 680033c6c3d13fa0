package scheduler

import (
	"fmt"
	"net/url"

	"github.com/afdproject/afd/internal/errkind"
)

// hostAliasFromURL derives the FSA host alias from a recipient URL's host
// component, mirroring config.hostAliasFromURL. Duplicated rather than
// imported: config already imports this package's Reindexer consumer
// indirectly through the loader/scheduler wiring in cmd/afd, and a
// scheduler -> config import would cycle back through it.
func hostAliasFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errkind.New(errkind.ProtocolBug, "scheduler.parse_url", fmt.Errorf("recipient url %q: %w", raw, err))
	}
	if u.Hostname() == "" {
		return "", errkind.New(errkind.ProtocolBug, "scheduler.parse_url", fmt.Errorf("recipient url %q: missing host", raw))
	}
	return u.Hostname(), nil
}
