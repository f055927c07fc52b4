package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"kisanmitra.ai/assistant/internal/api"
	"kisanmitra.ai/assistant/internal/core"
	"kisanmitra.ai/assistant/internal/shell"
	"kisanmitra.ai/assistant/internal/store"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	if err := cfg.RequireGemini(); err != nil {
		return err
	}
	ctx := cmd.Context()

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if cerr := dbStore.Close(); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("closing database: %w", cerr))
		}
	}()

	llmService, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		return err
	}
	chatService := core.NewChatService(llmService, logger)

	phrases, err := shell.DefaultPhrases()
	if err != nil {
		return fmt.Errorf("loading voice phrases: %w", err)
	}
	sessions := shell.NewManager(chatService, phrases, logger)

	apiHandler := api.NewAPIHandler(sessions, chatService, dbStore, logger, api.Options{
		ChatRateLimit:  rate.Limit(cfg.ChatRateLimit),
		ChatRateBurst:  cfg.ChatRateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustProxy:     cfg.TrustProxy,
	})
	router := api.NewRouter(apiHandler, logger)

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Replies stream over the response, so this bounds a whole answer.
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	// Hijacked voice sockets and open streams are not tracked by Shutdown.
	srv.RegisterOnShutdown(func() {
		sessions.CloseAll()
		chatService.CloseAll()
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exiting gracefully")
	return nil
}
