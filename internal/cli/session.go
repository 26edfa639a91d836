package cli

import (
	"time"

	"github.com/justsurfingit/jobsync/internal/auth"
	"github.com/spf13/cobra"
)

func newSessionCommand(opts *RootOptions) *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "session <user-id>",
		Short: "Issue a session token for calling the API as a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.connect()
			if err != nil {
				return err
			}
			token, err := auth.NewSessionVerifier(cfg.SessionSecret).Issue(args[0], email, ttl)
			if err != nil {
				return err
			}
			return emit(opts, cmd.OutOrStdout(), map[string]string{"token": token}, token)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
