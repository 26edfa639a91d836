// Package cli implements jobsyncctl, the operator tool for the sync service.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/justsurfingit/jobsync/internal/config"
	"github.com/justsurfingit/jobsync/internal/database"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// RootOptions holds global flags and the lazily opened database.
type RootOptions struct {
	Format string // "json" | "text"

	// connect opens the service database; tests substitute their own.
	connect func() (*gorm.DB, *config.Config, error)
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for jobsyncctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{connect: connectFromConfig})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobsyncctl",
		Short: "Operate the job application sync service",
		Long:  "Inspect and repair sync state: rule sets, verified domains, cursors and runs.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newRulesCommand(opts))
	cmd.AddCommand(newDomainsCommand(opts))
	cmd.AddCommand(newCursorCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newSessionCommand(opts))
	return cmd
}

func connectFromConfig() (*gorm.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

// emit writes v as JSON, or text as-is.
func emit(opts *RootOptions, w io.Writer, v interface{}, text string) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
