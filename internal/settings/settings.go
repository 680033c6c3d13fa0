// Package settings loads the daemon's own ambient configuration: the
// handful of process-wide knobs spec.md names (ABORT_TIMEOUT,
// WAIT_FOR_FD_REPLY, ARCHIVE_STEP_TIME, max_errors, plus the state-area
// and archive roots and logging verbosity) that live outside DIR_CONFIG
// because they govern the daemon itself rather than any one recipient.
// DIR_CONFIG stays in its own line-oriented format; this file is plain
// YAML, the same split rodent keeps between its struct-plus-defaults
// file and its cross-field validation file.
package settings

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afdproject/afd/internal/errkind"
)

// Settings is the daemon-wide configuration a YAML file at --config
// supplies. Every field has a zero-value-safe default from Default(), so
// a partial file only overrides what it mentions.
type Settings struct {
	FSADir      string `yaml:"fsa_dir"`
	ArchiveRoot string `yaml:"archive_root"`
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`

	MaxErrors       uint          `yaml:"max_errors"`
	AbortTimeout    time.Duration `yaml:"abort_timeout"`
	WaitForFDReply  time.Duration `yaml:"wait_for_fd_reply"`
	KeepConnected   time.Duration `yaml:"keep_connected"`
	DirScanInterval time.Duration `yaml:"dir_scan_interval"`
	ArchiveStepTime time.Duration `yaml:"archive_step_time"`
	ArchiveInterval time.Duration `yaml:"archive_scan_interval"`
}

// Default matches the values spec.md's scenarios name, the same set
// scheduler.DefaultConfig hardcodes absent a settings file.
func Default() Settings {
	return Settings{
		FSADir:          "/var/afd/fsa",
		ArchiveRoot:     "/var/afd/archive",
		LogLevel:        "info",
		MaxErrors:       3,
		AbortTimeout:    10 * time.Second,
		WaitForFDReply:  5 * time.Second,
		KeepConnected:   10 * time.Second,
		DirScanInterval: time.Second,
		ArchiveStepTime: 86400 * time.Second,
		ArchiveInterval: time.Hour,
	}
}

// Load reads path, unmarshals it over Default()'s values, and validates
// the result. A missing file is not an error: callers that pass
// --config only when an operator actually wants one can call Load
// unconditionally and fall back to Default().
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, errkind.New(errkind.LocalIO, "settings.read", err)
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, errkind.New(errkind.ProtocolBug, "settings.parse", err)
	}
	if err := s.validate(); err != nil {
		return s, err
	}
	return s, nil
}
