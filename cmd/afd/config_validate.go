package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/afdproject/afd/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "inspect or validate DIR_CONFIG files",
	}
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

// newConfigValidateCmd parses DIR_CONFIG files through the same loader
// amg uses, without publishing, so an operator can catch a syntax or
// recipient-URL error before it reaches a running daemon.
func newConfigValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "parse DIR_CONFIG files and report errors without publishing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("config validate: at least one DIR_CONFIG path required")
			}
			log := newLogger("config")
			loader := config.NewLoader(config.Paths{FSADir: fsaDir}, log)
			b, err := loader.Load(args)
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d dir-config file(s), %d directories, %d jobs\n", len(args), b.DirCount(), b.JobCount())
			return nil
		},
	}
	return cmd
}
