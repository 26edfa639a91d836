package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/justsurfingit/jobsync/internal/auth"
	"github.com/justsurfingit/jobsync/internal/models"
	"github.com/justsurfingit/jobsync/internal/rules"
	"github.com/justsurfingit/jobsync/internal/services"
	"github.com/spf13/cobra"
)

// newSyncCommand runs one account's sync in the foreground. It claims the
// account's run row like the server does, so it fails while any process has
// a run active for the account. The run heartbeats, so a server starting
// meanwhile does not recover it as interrupted.
func newSyncCommand(opts *RootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sync <account-id>",
		Short: "Run a sync for one account and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cfg, err := opts.connect()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			ruleStore, err := rules.Open(cfg.RulesPath)
			if err != nil {
				return err
			}
			cipher, err := auth.NewTokenCipher(cfg.TokenEncryptionKey)
			if err != nil {
				return err
			}
			gmailCreds := auth.NewGmailCredentials(
				auth.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI), cipher)
			mailboxes := services.NewMailboxService(db, gmailCreds, cipher)

			var extractor services.ApplicationExtractor
			if llm, err := services.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel); err == nil {
				extractor = llm
			} else {
				log.Printf("LLM fallback disabled: %v", err)
			}

			users := services.NewUserService(db)
			cursors := services.NewCursorStore(db)
			domains := services.NewDomainMemory(db)
			runs := services.NewRunRepository(db)
			store := services.NewApplicationStore(db, cfg.PageSize)
			orch := services.NewOrchestrator(services.OrchestratorConfig{
				BatchSize:        cfg.Sync.BatchSize,
				MaxFetchAttempts: cfg.Sync.MaxFetchAttempts,
				RetryBackoff:     cfg.Sync.RetryBackoff,
				DefaultLookback:  cfg.Sync.DefaultLookback,
				Heartbeat:        cfg.Sync.InterruptedAfter / 4,
			}, ruleStore, mailboxes, users, cursors, domains, runs, store, services.NewClassifier(extractor))

			acct, err := mailboxes.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if err := mailboxes.CheckReadable(acct); err != nil {
				return err
			}
			if err := orch.Start(ctx, acct, models.TriggerManual); err != nil {
				return err
			}

			if err := awaitRun(ctx, orch, acct.ID); err != nil {
				return err
			}

			run, err := runs.Get(context.Background(), acct.ID)
			if err != nil {
				return err
			}
			text := fmt.Sprintf("%s: %s, %d/%d processed, %d applications, %d filtered, %d discarded",
				acct.ID, run.Status, run.ProcessedMessages, run.TotalMessages,
				run.ApplicationsFound, run.FilteredMessages, run.DiscardedMessages)
			if run.ErrorCode != "" {
				text += " (" + run.ErrorCode + ")"
			}
			if err := emit(opts, cmd.OutOrStdout(), run, text); err != nil {
				return err
			}
			if run.Status == models.RunFailed {
				return fmt.Errorf("sync failed: %s", run.ErrorCode)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stop the run after this long (0 = no limit)")
	return cmd
}

type runWaiter interface {
	Stop(accountID string) error
	Wait(ctx context.Context, accountID string) error
}

// awaitRun waits for the account's run to end. Cancelling ctx (interrupt or
// timeout) stops the run; committed batches stay.
func awaitRun(ctx context.Context, runs runWaiter, accountID string) error {
	release := context.AfterFunc(ctx, func() { _ = runs.Stop(accountID) })
	defer release()
	return runs.Wait(context.Background(), accountID)
}
