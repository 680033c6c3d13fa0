// Package config implements the AMG role from spec.md §4.B: it parses a
// tree of directory-configurations, computes stable hash ids, and
// assembles new FSA/FRA/JID/DNB/FMD candidate generations for atomic
// hand-off to the scheduler.
//
// DIR_CONFIG has no ecosystem parser to reuse — it is AFD's own grammar,
// not YAML/TOML/INI-proper — so the reader below is a small hand-rolled
// recursive-descent scanner over bufio.Scanner, the shape a config
// reader takes when no structured format applies.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/afdproject/afd/internal/errkind"
)

// DirSection is one `[dir]` block: a source directory plus its
// housekeeping options.
type DirSection struct {
	Alias       string
	Path        string
	MaxParallel int
	Retention   int // seconds; archive_time
}

// RecipientSection is one `[recipient]` block nested under a directory:
// where files matching the directory's filters go, and how.
type RecipientSection struct {
	URL           string
	Priority      byte // '0'-'9'
	LocalOptions  []string
	SocketOptions []string
}

// Tuple is one fully-resolved (directory, filter, recipient, options)
// tuple — the unit spec.md §4.B hashes into a job-id.
type Tuple struct {
	Dir         DirSection
	Filters     []string
	Recipient   RecipientSection
	DirConfigID uint32 // identifies the source DIR_CONFIG file this came from
}

// parser holds the scanner state while walking one DIR_CONFIG file.
type parser struct {
	dirConfigID uint32
	lineNo      int
	section     string

	haveDir    bool
	dir        DirSection
	filters    []string
	recipient  RecipientSection
	haveRecipientFields bool

	tuples []Tuple
}

// ParseDirConfig reads one DIR_CONFIG file's worth of sections and
// expands them into tuples, one per (directory, recipient) pair (a
// directory with N recipients yields N tuples sharing Filters and Dir).
//
// Grammar (line-oriented, '#' comments, blank lines ignored):
//
//	[dir]
//	alias = <name>
//	path = <fs path>
//	max_parallel = <n>
//	retention = <seconds>
//
//	[filter]
//	<glob>
//	<glob>
//	...
//
//	[recipient]
//	url = <scheme://...>
//	priority = <0-9>
//	options = <comma-separated key[=value] list>
//	socket_options = <comma-separated key[=value] list>
//
// A [dir] block may be followed by any number of [filter]/[recipient]
// pairs; each [recipient] block, once closed by the next section header
// or EOF, emits one Tuple using the most recently seen [filter] block.
func ParseDirConfig(r io.Reader, dirConfigID uint32) ([]Tuple, error) {
	p := &parser{dirConfigID: dirConfigID}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if err := p.closeSection(); err != nil {
				return nil, err
			}
			p.section = strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(line, "["), "]"))
			switch p.section {
			case "dir":
				p.dir = DirSection{}
				p.haveDir = true
			case "filter":
				p.filters = nil
			case "recipient":
				if !p.haveDir {
					return nil, p.errf("[recipient] before [dir]")
				}
				p.recipient = RecipientSection{}
				p.haveRecipientFields = false
			default:
				return nil, p.errf("unknown section %q", p.section)
			}
			continue
		}
		if err := p.applyLine(line); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errkind.New(errkind.LocalIO, "config.parse", err)
	}
	if err := p.closeSection(); err != nil {
		return nil, err
	}
	return p.tuples, nil
}

func (p *parser) errf(format string, args ...any) error {
	return errkind.New(errkind.ProtocolBug, "config.parse",
		fmt.Errorf("line %d: %s", p.lineNo, fmt.Sprintf(format, args...)))
}

func (p *parser) applyLine(line string) error {
	switch p.section {
	case "dir":
		k, v, err := p.splitKV(line)
		if err != nil {
			return err
		}
		switch k {
		case "alias":
			p.dir.Alias = v
		case "path":
			p.dir.Path = v
		case "max_parallel":
			n, err := strconv.Atoi(v)
			if err != nil {
				return p.errf("max_parallel: %v", err)
			}
			p.dir.MaxParallel = n
		case "retention":
			n, err := strconv.Atoi(v)
			if err != nil {
				return p.errf("retention: %v", err)
			}
			p.dir.Retention = n
		default:
			return p.errf("unknown dir key %q", k)
		}
	case "filter":
		p.filters = append(p.filters, line)
	case "recipient":
		k, v, err := p.splitKV(line)
		if err != nil {
			return err
		}
		p.haveRecipientFields = true
		switch k {
		case "url":
			p.recipient.URL = v
		case "priority":
			if len(v) != 1 || v[0] < '0' || v[0] > '9' {
				return p.errf("priority must be a single digit 0-9, got %q", v)
			}
			p.recipient.Priority = v[0]
		case "options":
			p.recipient.LocalOptions = splitOptions(v)
		case "socket_options":
			p.recipient.SocketOptions = splitOptions(v)
		default:
			return p.errf("unknown recipient key %q", k)
		}
	default:
		return p.errf("key outside any section")
	}
	return nil
}

// closeSection finalizes a [recipient] block into a Tuple when the
// parser is about to leave it (on the next section header or EOF).
func (p *parser) closeSection() error {
	if p.section != "recipient" || !p.haveRecipientFields {
		return nil
	}
	if p.recipient.URL == "" {
		return p.errf("recipient missing url")
	}
	if p.recipient.Priority == 0 {
		p.recipient.Priority = '5'
	}
	p.tuples = append(p.tuples, Tuple{
		Dir:         p.dir,
		Filters:     append([]string(nil), p.filters...),
		Recipient:   p.recipient,
		DirConfigID: p.dirConfigID,
	})
	p.haveRecipientFields = false
	return nil
}

func (p *parser) splitKV(line string) (string, string, error) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", "", p.errf("expected key = value")
	}
	return strings.TrimSpace(strings.ToLower(line[:i])), strings.TrimSpace(line[i+1:]), nil
}

func splitOptions(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
