package cli

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/justsurfingit/jobsync/internal/rules"
	"github.com/spf13/cobra"
)

type rulesSummary struct {
	Path                 string `json:"path"`
	Version              string `json:"version"`
	Keywords             int    `json:"keywords"`
	HiringPlatforms      int    `json:"hiring_platforms"`
	FreeMailDomains      int    `json:"free_mail_domains"`
	StatusRules          int    `json:"status_rules"`
	FalsePositivePhrases int    `json:"false_positive_phrases"`
}

func newRulesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate and reload classification rule sets",
	}
	cmd.AddCommand(newRulesValidateCommand(opts))
	cmd.AddCommand(newRulesReloadCommand())
	return cmd
}

func newRulesValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rules.yaml>",
		Short: "Parse a rule set file without loading it into the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rs, err := rules.Parse(data)
			if err != nil {
				return err
			}
			s := rulesSummary{
				Path:                 args[0],
				Version:              rs.Version,
				Keywords:             len(rs.Keywords),
				HiringPlatforms:      len(rs.HiringPlatforms),
				FreeMailDomains:      len(rs.FreeMailDomains),
				StatusRules:          len(rs.StatusRules),
				FalsePositivePhrases: len(rs.FalsePositivePhrases),
			}
			return emit(opts, cmd.OutOrStdout(), s, fmt.Sprintf(
				"%s: version %s OK (%d keywords, %d hiring platforms, %d status rules)",
				s.Path, s.Version, s.Keywords, s.HiringPlatforms, s.StatusRules))
		},
	}
}

// The server reloads its rules file on SIGHUP.
func newRulesReloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reload <server-pid>",
		Short: "Ask a running server to reload its rules file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
				return fmt.Errorf("signal %d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent SIGHUP to %d\n", pid)
			return nil
		},
	}
}
