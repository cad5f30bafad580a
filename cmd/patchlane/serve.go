package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/patchlane/patchlane/internal/agent"
	"github.com/patchlane/patchlane/internal/ai"
	"github.com/patchlane/patchlane/internal/api"
	"github.com/patchlane/patchlane/internal/hosting"
	"github.com/patchlane/patchlane/internal/notify"
	"github.com/patchlane/patchlane/internal/pipeline"
	"github.com/patchlane/patchlane/internal/storage"
	"github.com/patchlane/patchlane/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intake server and fix pipeline",
	Long:  `Start the HTTP intake server. Each accepted bug report runs its own pipeline: classification, sandboxed fix synthesis, and change-request delivery.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	aiClient, err := ai.NewClient(ai.Config{
		APIKey: cfg.AI.APIKey,
		Model:  cfg.AI.Model,
		Retry: ai.RetryConfig{
			MaxRetries:        3,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
			Timeout:           cfg.AI.Timeout,
		},
		MaxConcurrentCalls: cfg.AI.MaxConcurrentCalls,
		RequestsPerMinute:  cfg.AI.RequestsPerMinute,
		Logger:             log,
	})
	if err != nil {
		return fmt.Errorf("ai client: %w", err)
	}

	workspaces, err := workspace.NewManager(workspace.Config{
		Root:            cfg.Workspace.Root,
		CloneTimeout:    cfg.Workspace.CloneTimeout,
		InstallTimeout:  cfg.Workspace.InstallTimeout,
		ValidateTimeout: cfg.Workspace.ValidateTimeout,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("workspace manager: %w", err)
	}

	fixAgent := agent.New(workspaces, aiClient, log)
	requester := hosting.NewClient(hosting.Config{
		CommandTimeout: cfg.Hosting.CommandTimeout,
		Logger:         log,
	}, nil)

	orchestrator := pipeline.New(store, aiClient, workspaces, fixAgent, requester, newNotifier(log), pipeline.Config{
		BaseBranch: cfg.Hosting.BaseBranch,
		AutoMerge:  cfg.Hosting.AutoMerge,
		Logger:     log,
	})

	server := api.NewServer(store, orchestrator, api.Config{Logger: log})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func openStore() (storage.Store, error) {
	if cfg.Store.Path == "" {
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func newNotifier(log zerolog.Logger) notify.Notifier {
	if cfg.Notify.Mode == "smtp" {
		return &notify.SMTPNotifier{
			Addr:      cfg.Notify.SMTPAddr,
			From:      cfg.Notify.From,
			Recipient: cfg.Notify.Recipient,
		}
	}
	return &notify.LogNotifier{Recipient: cfg.Notify.Recipient, Logger: log}
}
