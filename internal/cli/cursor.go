package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/justsurfingit/jobsync/internal/services"
	"github.com/spf13/cobra"
)

func newCursorCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or reset an account's sync cursor",
	}

	show := &cobra.Command{
		Use:   "show <account-id>",
		Short: "Print the cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := opts.connect()
			if err != nil {
				return err
			}
			cur, err := services.NewCursorStore(db).Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			if cur == nil {
				return fmt.Errorf("account %s has never been synced", args[0])
			}
			return emit(opts, cmd.OutOrStdout(), cur, fmt.Sprintf("epoch %d, last %s (%s), boundary %s",
				cur.Epoch, cur.LastProcessedAt.UTC().Format(time.RFC3339), cur.LastProcessedMessageID,
				cur.StartBoundary.UTC().Format(time.RFC3339)))
		},
	}

	var since string
	reset := &cobra.Command{
		Use:   "reset <account-id>",
		Short: "Open a new cursor epoch so the next run rescans from --since",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			boundary, err := time.Parse("2006-01-02", since)
			if err != nil {
				return fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
			}
			db, _, err := opts.connect()
			if err != nil {
				return err
			}
			cur, err := services.NewCursorStore(db).Reset(context.Background(), args[0], boundary)
			if err != nil {
				return err
			}
			return emit(opts, cmd.OutOrStdout(), cur, fmt.Sprintf("cursor %s reset to %s (epoch %d)",
				cur.AccountID, since, cur.Epoch))
		},
	}
	reset.Flags().StringVar(&since, "since", "", "new start boundary, YYYY-MM-DD (required)")
	_ = reset.MarkFlagRequired("since")

	cmd.AddCommand(show, reset)
	return cmd
}
