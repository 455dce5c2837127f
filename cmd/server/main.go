package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gwi.com/chatcore/internal/ai"
	"gwi.com/chatcore/internal/api"
	"gwi.com/chatcore/internal/config"
	"gwi.com/chatcore/internal/core"
	"gwi.com/chatcore/internal/kb"
	"gwi.com/chatcore/internal/logging"
	"gwi.com/chatcore/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "chatcore",
	Short:         "Chat turn service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(app *app) error { return serve(app) })
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, ingestCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.SQLiteStore
	embedder *ai.SourceEmbedder
}

func withApp(run func(*app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	embedder, err := ai.NewEmbedder(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding backend: %w", err)
	}
	defer embedder.Close()

	return run(&app{cfg: cfg, logger: logger, store: dbStore, embedder: embedder})
}

func serve(app *app) error {
	cfg, logger := app.cfg, app.logger

	kbFactory := kb.NewFactory(app.store, app.embedder, logger)
	defer kbFactory.Close()

	assembler := core.NewContextAssembler(kbFactory, app.store, app.store, app.store, app.embedder, core.AssemblerOptions{
		KBTimeout:        cfg.KBTimeout,
		EmbeddingTimeout: cfg.EmbeddingTimeout,
		KBMaxConcurrency: cfg.KBMaxConcurrency,
	}, logger)

	chatService := core.NewChatService(
		core.NewGuard(app.store, logger),
		app.store,
		assembler,
		ai.NewFactory(app.store, logger),
		core.ChatServiceOptions{
			HistoryLimit:      cfg.HistoryLimit,
			GenerationTimeout: cfg.GenerationTimeout,
			Settings:          core.DefaultGenerationSettings,
		},
		logger,
	)

	apiHandler := api.NewAPIHandler(chatService, app.store, []byte(cfg.JWTSecret), logger)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
	case <-quit:
	}
	logger.Info("shutting down server")

	// Generations in flight are detached from their requests; give them time.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GenerationTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited gracefully")
	return nil
}
