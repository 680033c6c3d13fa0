package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/statearea"
)

// SchemaVersion is the on-disk layout version this build of the config
// loader produces. A process refusing to attach a mismatching schema
// (spec.md §3 invariant 5) is the correct, intended failure mode.
const SchemaVersion uint8 = 1

// Reindexer is implemented by the scheduler: after a new generation is
// installed, the loader asks it to freeze admissions and resolve
// in-flight jobs to their new FSA/FRA/JID positions (spec.md §4.B
// "finally asks the scheduler to reindex in-flight jobs by (job-id) ->
// new position").
type Reindexer interface {
	FreezeAdmissions()
	Reindex() error
	ResumeAdmissions()
}

// Paths names the state-area files the loader maintains.
type Paths struct {
	FSADir string // directory holding fsa, fra, jid, dnb, fmd
}

func (p Paths) fsa() string { return filepath.Join(p.FSADir, "fsa") }
func (p Paths) fra() string { return filepath.Join(p.FSADir, "fra") }
func (p Paths) jid() string { return filepath.Join(p.FSADir, "jid") }
func (p Paths) dnb() string { return filepath.Join(p.FSADir, "dnb") }
func (p Paths) fmd() string { return filepath.Join(p.FSADir, "fmd") }

// Loader is the AMG role: it reads a set of DIR_CONFIG files, computes
// stable ids, and publishes new FSA/FRA/JID/DNB/FMD generations.
type Loader struct {
	paths Paths
	log   *logrus.Entry
}

// NewLoader builds a Loader writing into paths.
func NewLoader(paths Paths, log *logrus.Entry) *Loader {
	return &Loader{paths: paths, log: log}
}

// built is the set of candidate records assembled from one pass over all
// DIR_CONFIG files, plus the parsed tuples (kept so the scheduler can
// enqueue jobs derived from them without re-parsing).
type built struct {
	hosts      []statearea.Host
	dirs       []statearea.Directory
	jobs       []statearea.JobID
	dirNames   []statearea.DirNameEntry
	fileMasks  []statearea.FileMask
	tuples     []Tuple
}

// DirCount and JobCount let callers outside this package (afd config
// validate) report a summary without reaching into built's unexported
// fields.
func (b *built) DirCount() int { return len(b.dirs) }
func (b *built) JobCount() int { return len(b.jobs) }

// Load parses every DIR_CONFIG file, resolves hosts from recipient URLs,
// and returns the assembled candidate generation. On a parse error for
// any one file, the old areas remain in force and the error is returned
// to the caller as an ERROR condition (spec.md §4.B "Failure semantics");
// the caller decides whether that is fatal.
func (l *Loader) Load(dirConfigPaths []string) (*built, error) {
	b := &built{}
	seenDirs := map[uint32]bool{}
	seenMasks := map[uint32]bool{}
	seenJobs := map[uint32]bool{}
	hostIdx := map[string]int{}

	for _, path := range dirConfigPaths {
		f, err := os.Open(path)
		if err != nil {
			return nil, errkind.New(errkind.LocalIO, "config.load", err)
		}
		dcID := DirConfigID(path)
		tuples, err := ParseDirConfig(f, dcID)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, t := range tuples {
			b.tuples = append(b.tuples, t)

			dirID := DirID(t.Dir)
			if !seenDirs[dirID] {
				seenDirs[dirID] = true
				var d statearea.Directory
				d.SetAlias(t.Dir.Alias)
				d.DirID = dirID
				d.SetPath(t.Dir.Path)
				d.Parallelism = uint16(t.Dir.MaxParallel)
				d.RetentionSeconds = uint32(t.Dir.Retention)
				b.dirs = append(b.dirs, d)

				var dn statearea.DirNameEntry
				dn.DirID = dirID
				dn.SetPath(t.Dir.Path)
				b.dirNames = append(b.dirNames, dn)
			}

			maskID := FileMaskID(t.Filters)
			if !seenMasks[maskID] {
				seenMasks[maskID] = true
				var fm statearea.FileMask
				fm.MaskID = maskID
				fm.SetPatterns(t.Filters)
				b.fileMasks = append(b.fileMasks, fm)
			}

			jobID := JobID(t)
			if !seenJobs[jobID] {
				seenJobs[jobID] = true
				var j statearea.JobID
				j.JobID = jobID
				j.DirID = dirID
				j.FileMaskID = maskID
				j.SetRecipientURL(t.Recipient.URL)
				j.Priority = t.Recipient.Priority
				j.SetLocalOptions(joinComma(t.Recipient.LocalOptions))
				j.SetSocketOptions(joinComma(t.Recipient.SocketOptions))
				j.DirConfigID = t.DirConfigID
				b.jobs = append(b.jobs, j)
			}

			alias, err := hostAliasFromURL(t.Recipient.URL)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if _, ok := hostIdx[alias]; !ok {
				var h statearea.Host
				h.SetAlias(alias)
				h.MaxParallel = uint16(max(t.Dir.MaxParallel, 1))
				h.Allowed = h.MaxParallel
				hostIdx[alias] = len(b.hosts)
				b.hosts = append(b.hosts, h)
			}
		}
	}

	// Deterministic ordering makes repeated loads of the same input
	// byte-identical (spec.md §8 property 7, idempotence).
	sort.Slice(b.dirs, func(i, j int) bool { return b.dirs[i].DirID < b.dirs[j].DirID })
	sort.Slice(b.jobs, func(i, j int) bool { return b.jobs[i].JobID < b.jobs[j].JobID })
	sort.Slice(b.dirNames, func(i, j int) bool { return b.dirNames[i].DirID < b.dirNames[j].DirID })
	sort.Slice(b.fileMasks, func(i, j int) bool { return b.fileMasks[i].MaskID < b.fileMasks[j].MaskID })
	sort.Slice(b.hosts, func(i, j int) bool { return b.hosts[i].GetAlias() < b.hosts[j].GetAlias() })

	l.log.WithFields(logrus.Fields{
		"dir_configs": len(dirConfigPaths),
		"hosts":       len(b.hosts),
		"dirs":        len(b.dirs),
		"jobs":        len(b.jobs),
	}).Info("config: loaded candidate generation")

	return b, nil
}

// Publish installs a freshly-Loaded generation: it freezes scheduler
// admissions, swaps in each area, then asks the scheduler to reindex
// in-flight jobs before resuming admissions (spec.md §4.B).
func (l *Loader) Publish(b *built, reindexer Reindexer) error {
	reindexer.FreezeAdmissions()
	defer reindexer.ResumeAdmissions()

	if err := publishArea(l.paths.fsa(), statearea.HostCodec{}, b.hosts); err != nil {
		return err
	}
	if err := publishArea(l.paths.fra(), statearea.DirectoryCodec{}, b.dirs); err != nil {
		return err
	}
	if err := publishArea(l.paths.jid(), statearea.JobIDCodec{}, b.jobs); err != nil {
		return err
	}
	if err := publishArea(l.paths.dnb(), statearea.DirNameCodec{}, b.dirNames); err != nil {
		return err
	}
	if err := publishArea(l.paths.fmd(), statearea.FileMaskCodec{}, b.fileMasks); err != nil {
		return err
	}

	l.log.Info("config: new generation installed, reindexing scheduler")
	return reindexer.Reindex()
}

// publishArea creates the area file fresh if it doesn't exist yet, or
// publishes a new generation over an existing one. It is a free function,
// not a method, because Go methods cannot carry their own type
// parameters.
func publishArea[T any](path string, codec statearea.Codec[T], records []T) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := statearea.Create(path, codec, SchemaVersion, len(records)); err != nil {
			return err
		}
	}
	a, err := statearea.Attach(path, codec, SchemaVersion)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.PublishNew(records)
}

func joinComma(opts []string) string {
	out := ""
	for i, o := range opts {
		if i > 0 {
			out += ","
		}
		out += o
	}
	return out
}

// hostAliasFromURL derives a host alias from a recipient URL's host
// component. Two recipient URLs that differ only in path or query share
// one FSA host entry, matching spec.md's host-record-per-alias model.
func hostAliasFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errkind.New(errkind.ProtocolBug, "config.parse", fmt.Errorf("recipient url %q: %w", raw, err))
	}
	if u.Hostname() == "" {
		return "", errkind.New(errkind.ProtocolBug, "config.parse", fmt.Errorf("recipient url %q: missing host", raw))
	}
	return u.Hostname(), nil
}
