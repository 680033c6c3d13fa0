// Command afd is the distribution daemon's single binary: every role
// (supervisor, amg, fd, archive scanner, transfer worker) is a "serve"
// subcommand of the same executable, started by the supervisor as a
// child process.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/afdproject/afd/internal/daemonlog"
	"github.com/afdproject/afd/internal/settings"
)

var (
	fsaDir         string
	logJSON        bool
	logDebug       bool
	binaryOverride string
	settingsPath   string

	activeSettings settings.Settings
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "afd",
		Short: "automatic file distribution daemon",
		// loads the ambient settings file (if any) before any subcommand
		// runs, then lets flags the operator actually typed win over it.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(settingsPath)
			if err != nil {
				return err
			}
			activeSettings = s
			if !cmd.Flags().Changed("fsa-dir") {
				fsaDir = s.FSADir
			}
			if !cmd.Flags().Changed("debug") {
				logDebug = s.LogLevel == "debug"
			}
			if !cmd.Flags().Changed("log-json") {
				logJSON = s.LogJSON
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&fsaDir, "fsa-dir", "/var/afd/fsa", "directory holding the fsa/fra/jid/dnb/fmd state areas")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit structured JSON log lines")
	root.PersistentFlags().BoolVar(&logDebug, "debug", false, "enable debug-level logging")
	root.PersistentFlags().StringVar(&binaryOverride, "binary", "", "path to this executable, for re-exec (defaults to os.Executable())")
	root.PersistentFlags().StringVar(&settingsPath, "config", "", "path to the daemon's YAML settings file (ambient config, not DIR_CONFIG)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newReloadCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func newLogger(component string) *logrus.Entry {
	return daemonlog.New(daemonlog.Options{
		Component: component,
		Debug:     logDebug,
		JSON:      logJSON,
	})
}

// resolveBinary returns the path used to re-exec this program as a child
// role, honoring --binary for tests and packaging setups where
// os.Executable's result isn't the path operators invoke.
func resolveBinary() (string, error) {
	if binaryOverride != "" {
		return binaryOverride, nil
	}
	return os.Executable()
}
