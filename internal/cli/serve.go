package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"appdock/internal/coverage"
	"appdock/internal/dispatch"
	"appdock/internal/gateway"
	"appdock/internal/manifest"
	"appdock/internal/oauth"
	"appdock/internal/scheduler"
	"appdock/internal/storage"
	"appdock/pkg/logger"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the app under the local event gateway",
		Long: `Run the app under the local event gateway.

The gateway accepts event envelopes on /event/execute, inbound
webhooks on /event/hook/{product}, and executes the app's handlers
in a sandbox with the platform capability surface injected.`,
		Example: `  # Serve the app in the current directory
  appdock serve --app .

  # Serve on a custom port
  appdock serve --port 8080`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")
	cmd.Flags().String("app", "", "app directory (overrides config)")
	cmd.Flags().String("tunnel", "", "public tunnel base URL for webhook targets")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadedConfig
	if cfg == nil {
		return fmt.Errorf("configuration not initialized")
	}
	log := logger.Get()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if app, _ := cmd.Flags().GetString("app"); app != "" {
		cfg.App.Dir = app
	}
	if tunnel, _ := cmd.Flags().GetString("tunnel"); tunnel != "" {
		cfg.Gateway.TunnelURL = tunnel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer db.Close()

	mfst := manifest.NewProvider(cfg.App.Dir, *log)
	if err := mfst.Load(); err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	watcher := manifest.NewWatcher(mfst)
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("manifest watcher unavailable")
	} else {
		defer watcher.Close()
	}

	oauthMgr := oauth.NewManager(db, oauth.Config{
		TokenURL:     cfg.OAuth.TokenURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
	}, *log)

	fireURL := cfg.Gateway.BaseURL() + "/event/execute"
	schedMgr := scheduler.NewManager(scheduler.NewStore(db), fireURL, *log)
	if err := schedMgr.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer schedMgr.Stop()

	collector := coverage.NewCollector(coverage.LogSink{Logger: *log}, 10*time.Second, *log)
	collector.Start()
	defer collector.Stop()

	dispatcher := dispatch.New(dispatch.Options{
		Config:    cfg,
		DB:        db,
		Schedule:  schedMgr,
		Manifest:  mfst,
		OAuth:     oauthMgr,
		Collector: collector,
		Logger:    *log,
	})

	srv := gateway.NewServer(cfg, dispatcher)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("address", fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)).
		Str("app", cfg.App.Dir).
		Msg("Appdock running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("Shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
