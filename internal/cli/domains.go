package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/justsurfingit/jobsync/internal/services"
	"github.com/spf13/cobra"
)

func newDomainsCommand(opts *RootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Inspect a user's verified sender domains",
	}
	cmd.PersistentFlags().StringVar(&userID, "user", "", "owner user id (required)")
	_ = cmd.MarkPersistentFlagRequired("user")

	list := &cobra.Command{
		Use:   "list",
		Short: "List verified domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := opts.connect()
			if err != nil {
				return err
			}
			domains, err := services.NewDomainMemory(db).ListVerified(context.Background(), userID)
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, d := range domains {
				fmt.Fprintf(&b, "%s\t%s\t%s\n", d.Domain, d.CompanyName, d.FirstSeenAt.UTC().Format("2006-01-02"))
			}
			return emit(opts, cmd.OutOrStdout(), domains, strings.TrimSuffix(b.String(), "\n"))
		},
	}

	forget := &cobra.Command{
		Use:   "forget <domain>",
		Short: "Remove a domain so its mail is judged by keywords again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := opts.connect()
			if err != nil {
				return err
			}
			if err := services.NewDomainMemory(db).Forget(context.Background(), userID, args[0]); err != nil {
				return err
			}
			return emit(opts, cmd.OutOrStdout(), map[string]string{"forgotten": args[0]}, "forgot "+args[0])
		},
	}

	cmd.AddCommand(list, forget)
	return cmd
}
