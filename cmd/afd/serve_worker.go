package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/afdproject/afd/internal/config"
	"github.com/afdproject/afd/internal/daemonlog"
	"github.com/afdproject/afd/internal/dupcheck"
	"github.com/afdproject/afd/internal/errkind"
	"github.com/afdproject/afd/internal/retrieve"
	"github.com/afdproject/afd/internal/statearea"
	"github.com/afdproject/afd/internal/translog"
	"github.com/afdproject/afd/internal/worker"
)

// newServeWorkerCmd is the per-job transfer worker the launcher spawns
// (spec.md §4.D). It never talks to the scheduler directly: its control
// surface is the three inherited pipes the launcher wires as fd 3/4/5.
func newServeWorkerCmd() *cobra.Command {
	var (
		jobIDFlag         uint32
		dirIDFlag         uint32
		hostAlias         string
		protoFlag         string
		retrieveFlag      bool
		keepConnectedFlag string
		workDir           string
	)
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "run one transfer job to completion, then burst-chain follow-on jobs",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("worker").WithField(daemonlog.FieldJobID, jobIDFlag)

			keepConnected, err := time.ParseDuration(keepConnectedFlag)
			if err != nil {
				return errkind.New(errkind.ProtocolBug, "worker.parse_keep_connected", err)
			}

			burstIn := os.NewFile(3, "burst-in")
			ackOut := os.NewFile(4, "ack-out")
			finOut := os.NewFile(5, "fin-out")
			if burstIn == nil || ackOut == nil || finOut == nil {
				return errkind.New(errkind.ProtocolBug, "worker.missing_pipes", nil)
			}

			res := &resolver{paths: config.Paths{FSADir: workDir}}

			first, err := res.resolve(jobIDFlag, dirIDFlag)
			if err != nil {
				return err
			}
			// the launcher already picked host-alias/protocol/retrieve for
			// this process's first job; trust the flags over a second
			// derivation so a worker started for a retrieve job never
			// silently flips to send because of a stale FRA read.
			first.HostAlias = hostAlias
			first.IsRetrieve = retrieveFlag

			registry := newDefaultRegistry()
			dialer, err := registry.Resolve(protoFlag)
			if err != nil {
				return err
			}
			adapter, err := dialer(first.remoteURL)
			if err != nil {
				return err
			}

			retrieveStore, err := retrieveStoreFor(workDir, hostAlias)
			if err != nil {
				return err
			}

			machine := &worker.Machine{
				Adapter:  adapter,
				Log:      log,
				TransLog: translog.New(os.Stdout),
				Dup:      dupcheck.New(24 * time.Hour),
				Lister:   worker.DirLister{},
				Retrieve: retrieveStore,
			}

			session := &worker.Session{
				Machine:       machine,
				Log:           log,
				BurstIn:       burstIn,
				AckOut:        ackOut,
				FinOut:        finOut,
				KeepConnected: keepConnected,
				Resolve: func(jobID, dirID uint32) (worker.Job, error) {
					j, err := res.resolve(jobID, dirID)
					if err != nil {
						return worker.Job{}, err
					}
					adapter, err := dialer(j.remoteURL)
					if err != nil {
						return worker.Job{}, err
					}
					machine.Adapter = adapter
					return j.Job, nil
				},
			}

			session.Run(context.Background(), first.Job)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&jobIDFlag, "job-id", 0, "job-id to run first")
	cmd.Flags().Uint32Var(&dirIDFlag, "dir-id", 0, "dir-id the first job belongs to")
	cmd.Flags().StringVar(&hostAlias, "host-alias", "", "recipient host alias")
	cmd.Flags().StringVar(&protoFlag, "protocol", "", "recipient URL scheme")
	cmd.Flags().BoolVar(&retrieveFlag, "retrieve", false, "run as a RETRIEVE job instead of SEND")
	cmd.Flags().StringVar(&keepConnectedFlag, "keep-connected", "0s", "idle time to hold the connection open for burst-chained jobs")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "fsa/fra/jid state area directory")
	return cmd
}

// resolvedJob bundles a worker.Job with the recipient URL the dialer
// needs; worker.Job itself only carries the remote directory path, not
// the scheme/host the adapter dials.
type resolvedJob struct {
	worker.Job
	remoteURL string
}

// resolver re-attaches the JID/FRA/FMD state areas fresh on every call
// rather than caching a Ref: a worker process lives for at most a
// handful of burst-chained jobs, so the extra mmap/attach cost is not
// worth the bookkeeping a long-lived Ref is built for.
type resolver struct {
	paths config.Paths
}

func (r *resolver) resolve(jobID, dirID uint32) (resolvedJob, error) {
	jidArea, err := statearea.Attach(filepath.Join(r.paths.FSADir, "jid"), statearea.JobIDCodec{}, config.SchemaVersion)
	if err != nil {
		return resolvedJob{}, err
	}
	defer jidArea.Close()
	jidPos, err := jidArea.LookupBy(func(j statearea.JobID) bool { return j.JobID == jobID })
	if err != nil {
		return resolvedJob{}, err
	}
	jidRec, err := jidArea.Get(jidPos)
	if err != nil {
		return resolvedJob{}, err
	}

	fraArea, err := statearea.Attach(filepath.Join(r.paths.FSADir, "fra"), statearea.DirectoryCodec{}, config.SchemaVersion)
	if err != nil {
		return resolvedJob{}, err
	}
	defer fraArea.Close()
	fraPos, err := fraArea.LookupBy(func(d statearea.Directory) bool { return d.DirID == dirID })
	if err != nil {
		return resolvedJob{}, err
	}
	fraRec, err := fraArea.Get(fraPos)
	if err != nil {
		return resolvedJob{}, err
	}

	var filters []string
	fmdArea, err := statearea.Attach(filepath.Join(r.paths.FSADir, "fmd"), statearea.FileMaskCodec{}, config.SchemaVersion)
	if err == nil {
		defer fmdArea.Close()
		if pos, ferr := fmdArea.LookupBy(func(m statearea.FileMask) bool { return m.MaskID == jidRec.FileMaskID }); ferr == nil {
			if rec, gerr := fmdArea.Get(pos); gerr == nil {
				filters = rec.PatternStrings()
			}
		}
	}

	recipientURL := jidRec.GetRecipientURL()
	opts := parseOptions(jidRec.GetLocalOptions())

	job := worker.Job{
		JobID:           jobID,
		DirID:           dirID,
		RemoteDir:       remotePathOf(recipientURL),
		LocalDir:        fraRec.GetPath(),
		Filters:         filters,
		LockDiscipline:  opts.lock,
		BatchPolicy:     opts.batch,
		ArchiveTime:     opts.archiveTime,
		ArchiveRoot:     opts.archiveRoot,
		ArchiveCompress: opts.archiveCompress,
		ArchiveStep:     activeSettings.ArchiveStepTime,
		ArchiveUser:     fraRec.GetAlias(),
		ArchiveDirNum:   int(dirID),
		DupVariant:      opts.dupVariant,
		DupPolicy:       opts.dupPolicy,
	}
	return resolvedJob{Job: job, remoteURL: recipientURL}, nil
}

// workerOptions is what a JID's comma-separated LocalOptions string
// decodes to. DIR_CONFIG's "options = k=v,k=v" line is free-form per
// recipient, so unknown keys are ignored rather than rejected: a future
// option a config predates this binary should not make every job using
// that DIR_CONFIG unschedulable.
type workerOptions struct {
	lock            worker.LockDiscipline
	batch           worker.BatchPolicy
	archiveTime     time.Duration
	archiveRoot     string
	archiveCompress bool
	dupVariant      dupcheck.Variant
	dupPolicy       dupcheck.Policy
}

func parseOptions(raw string) workerOptions {
	opts := workerOptions{lock: worker.LockNone, batch: worker.PolicyAbortOnError}
	for _, kv := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "rename":
			switch v {
			case "dot":
				opts.lock = worker.LockDotPrefixRename
			case "vms":
				opts.lock = worker.LockDotPrefixVMS
			case "postfix":
				opts.lock = worker.LockPostfix
			case "sidelock":
				opts.lock = worker.LockSideLockfile
			}
		case "batch":
			if v == "skip" {
				opts.batch = worker.PolicySkipOnError
			}
		case "archive":
			spec, compress, _ := strings.Cut(v, ":")
			if secs, err := strconv.Atoi(spec); err == nil {
				opts.archiveTime = time.Duration(secs) * time.Second
				opts.archiveRoot = "/var/afd/archive"
				opts.archiveCompress = compress == "gz"
			}
		case "dup":
			variant, policy, ok := strings.Cut(v, ":")
			if !ok {
				continue
			}
			switch variant {
			case "crc32":
				opts.dupVariant = dupcheck.CRC32
			case "crc32c":
				opts.dupVariant = dupcheck.CRC32C
			case "murmur3":
				opts.dupVariant = dupcheck.Murmur3
			}
			switch policy {
			case "warn":
				opts.dupPolicy = dupcheck.PolicyWarn
			case "delete":
				opts.dupPolicy = dupcheck.PolicyDelete
			case "store":
				opts.dupPolicy = dupcheck.PolicyStore
			}
		}
	}
	return opts
}

// remotePathOf extracts the path component a recipient URL's adapter
// expects ChangeDir to receive; the scheme/host portion is the dialer's
// concern, not the batch loop's.
func remotePathOf(rawURL string) string {
	_, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return "/"
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i:]
	}
	return "/"
}

// retrieveStoreFor loads (or creates) the per-host retrieve-list store a
// RETRIEVE job reconciles remote listings against (spec.md §4.F).
func retrieveStoreFor(workDir, hostAlias string) (*retrieve.Store, error) {
	path := filepath.Join(workDir, "retrieve."+hostAlias)
	if _, err := os.Stat(path); err == nil {
		return retrieve.Load(path, retrieve.ModeNo)
	}
	return retrieve.New(path, retrieve.ModeNo), nil
}
