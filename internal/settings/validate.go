package settings

import (
	"fmt"

	"github.com/afdproject/afd/internal/errkind"
)

// validate catches settings combinations that would otherwise surface
// much later as a confusing scheduler or archive-scanner failure.
func (s Settings) validate() error {
	if s.FSADir == "" {
		return errkind.New(errkind.ProtocolBug, "settings.validate", fmt.Errorf("fsa_dir must not be empty"))
	}
	if s.MaxErrors == 0 {
		return errkind.New(errkind.ProtocolBug, "settings.validate", fmt.Errorf("max_errors must be at least 1"))
	}
	if s.AbortTimeout <= 0 {
		return errkind.New(errkind.ProtocolBug, "settings.validate", fmt.Errorf("abort_timeout must be positive"))
	}
	if s.WaitForFDReply <= 0 {
		return errkind.New(errkind.ProtocolBug, "settings.validate", fmt.Errorf("wait_for_fd_reply must be positive"))
	}
	if s.DirScanInterval <= 0 {
		return errkind.New(errkind.ProtocolBug, "settings.validate", fmt.Errorf("dir_scan_interval must be positive"))
	}
	if s.ArchiveStepTime <= 0 {
		return errkind.New(errkind.ProtocolBug, "settings.validate", fmt.Errorf("archive_step_time must be positive"))
	}
	switch s.LogLevel {
	case "", "info", "debug":
	default:
		return errkind.New(errkind.ProtocolBug, "settings.validate", fmt.Errorf("log_level %q must be info or debug", s.LogLevel))
	}
	return nil
}
