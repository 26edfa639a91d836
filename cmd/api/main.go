package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justsurfingit/jobsync/internal/auth"
	"github.com/justsurfingit/jobsync/internal/config"
	"github.com/justsurfingit/jobsync/internal/database"
	"github.com/justsurfingit/jobsync/internal/handlers"
	"github.com/justsurfingit/jobsync/internal/rules"
	"github.com/justsurfingit/jobsync/internal/services"
)

func main() {
	// 1. Load Configuration (.env, optional YAML, environment)
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	// 2. Database Connection
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Free the slots of runs a previous process left behind. Runs still
	// making progress (a jobsyncctl sync, another replica) are left alone.
	runs := services.NewRunRepository(db)
	if n, err := runs.RecoverInterrupted(ctx, cfg.Sync.InterruptedAfter); err != nil {
		log.Fatal("Failed to recover interrupted runs: ", err)
	} else if n > 0 {
		log.Printf("Marked %d interrupted run(s) as failed", n)
	}

	// 4. Rules, reloadable with SIGHUP
	ruleStore, err := rules.Open(cfg.RulesPath)
	if err != nil {
		log.Fatal("Failed to load rules: ", err)
	}
	go reloadRulesOnHangup(ctx, ruleStore)

	// 5. Credentials and Mailboxes
	cipher, err := auth.NewTokenCipher(cfg.TokenEncryptionKey)
	if err != nil {
		log.Fatal("Invalid TOKEN_ENCRYPTION_KEY: ", err)
	}
	gmailCreds := auth.NewGmailCredentials(
		auth.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI), cipher)
	mailboxes := services.NewMailboxService(db, gmailCreds, cipher)

	// 6. LLM fallback is optional; without a key the rules decide alone
	var extractor services.ApplicationExtractor
	if llm, err := services.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel); err != nil {
		log.Printf("⚠️  LLM fallback disabled: %v", err)
	} else {
		extractor = llm
		log.Printf("✅ LLM fallback enabled (%s)", cfg.GeminiModel)
	}

	// 7. Initialize Core Services (Dependencies)
	users := services.NewUserService(db)
	cursors := services.NewCursorStore(db)
	domains := services.NewDomainMemory(db)
	store := services.NewApplicationStore(db, cfg.PageSize)
	classifier := services.NewClassifier(extractor)

	orchestrator := services.NewOrchestrator(services.OrchestratorConfig{
		BatchSize:        cfg.Sync.BatchSize,
		MaxFetchAttempts: cfg.Sync.MaxFetchAttempts,
		RetryBackoff:     cfg.Sync.RetryBackoff,
		DefaultLookback:  cfg.Sync.DefaultLookback,
		Heartbeat:        cfg.Sync.InterruptedAfter / 4,
	}, ruleStore, mailboxes, users, cursors, domains, runs, store, classifier)
	processing := services.NewProcessingService(mailboxes, users, runs, cursors, orchestrator, cfg.Sync.StalenessThreshold)
	exporter := services.NewExporter(store, cfg.ExportRatePerMinute)

	// 8. Setup Router
	router := handlers.NewRouter(cfg.AllowedOrigins, auth.NewSessionVerifier(cfg.SessionSecret), users, handlers.Handlers{
		Jobs:       handlers.NewJobHandler(store, users, exporter),
		Processing: handlers.NewProcessingHandler(processing),
		Settings:   handlers.NewSettingsHandler(processing, users),
		Coach:      handlers.NewCoachHandler(users),
		Mailbox:    handlers.NewMailboxHandler(mailboxes),
	})

	// 9. Premium auto-sync
	scheduler := services.NewScheduler(runs, orchestrator,
		cfg.Sync.SchedulerInterval, cfg.Sync.StalenessThreshold, cfg.Sync.SchedulerConcurrency)
	scheduler.InterruptedAfter = cfg.Sync.InterruptedAfter
	go scheduler.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("🚀 Server starting on port %s...", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start: ", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	// Cancelled runs go back to idle with their committed batches kept.
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Printf("Orchestrator shutdown: %v", err)
	}
}

func reloadRulesOnHangup(ctx context.Context, store *rules.Store) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := store.Reload(); err != nil {
				log.Printf("[Rules] reload failed, keeping current rules: %v", err)
			}
		}
	}
}
