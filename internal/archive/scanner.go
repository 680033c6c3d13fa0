package archive

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Signal is one of the two control signals the archive scanner's command
// fifo carries (spec.md §4.G "Honors two signals: STOP (graceful exit)
// and RETRY (rescan immediately)").
type Signal int

const (
	SignalRetry Signal = iota
	SignalStop
)

// Scanner is the archive-and-retention long-lived process (spec.md
// §4.G). It runs as a single goroutine selecting over a ticker and a
// signal channel, the same "one top-level select" shape every other AFD
// process uses.
type Scanner struct {
	root        string
	interval    time.Duration
	stepSeconds int64
	log         *logrus.Entry
	signals     chan Signal
	now         func() int64
}

// New builds a Scanner that walks root every interval, expiring buckets
// whose epoch+stepSeconds has passed. stepSeconds must be the same
// ARCHIVE_STEP_TIME value BucketEpoch quantized bucket epochs with, or
// a bucket's actual expiry window won't match the window its epoch was
// computed against.
func New(root string, interval time.Duration, stepSeconds time.Duration, log *logrus.Entry) *Scanner {
	return &Scanner{
		root:        root,
		interval:    interval,
		stepSeconds: int64(stepSeconds.Seconds()),
		log:         log,
		signals:     make(chan Signal, 1),
		now:         func() int64 { return time.Now().Unix() },
	}
}

// Signal delivers a control signal, matching a read off the scanner's
// command fifo.
func (s *Scanner) Signal(sig Signal) {
	select {
	case s.signals <- sig:
	default:
		// a pending signal is as good as a new RETRY: RETRY coalesces.
		// STOP replaces a pending RETRY so it is never dropped.
		if sig == SignalStop {
			select {
			case <-s.signals:
			default:
			}
			select {
			case s.signals <- sig:
			default:
			}
		}
	}
}

// Run blocks, sweeping root on every tick or RETRY signal, until a STOP
// signal arrives or ctx-equivalent shutdown is requested via done.
func (s *Scanner) Run(done <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	hourly := Stats{}
	hourTick := time.NewTicker(time.Hour)
	defer hourTick.Stop()

	for {
		select {
		case <-done:
			return
		case sig := <-s.signals:
			if sig == SignalStop {
				return
			}
			s.sweepOnce(&hourly)
		case <-ticker.C:
			s.sweepOnce(&hourly)
		case <-hourTick.C:
			s.log.WithFields(logrus.Fields{
				"buckets_removed": hourly.BucketsRemoved,
				"files_removed":   hourly.FilesRemoved,
			}).Info("archive: hourly retention report")
			hourly = Stats{}
		}
	}
}

func (s *Scanner) sweepOnce(hourly *Stats) {
	stats, err := Sweep(s.root, s.now(), s.stepSeconds)
	if err != nil {
		s.log.WithError(err).Error("archive: sweep failed")
		return
	}
	hourly.BucketsRemoved += stats.BucketsRemoved
	hourly.FilesRemoved += stats.FilesRemoved
	if stats.BucketsRemoved > 0 {
		s.log.WithFields(logrus.Fields{
			"buckets_removed": stats.BucketsRemoved,
			"files_removed":   stats.FilesRemoved,
		}).Debug("archive: sweep removed expired buckets")
	}
}
