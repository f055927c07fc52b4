package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kisanmitra.ai/assistant/internal/config"
	"kisanmitra.ai/assistant/internal/logging"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kisan-mitra",
	Short: "Kisan Mitra AI assistant service",
	Long: `Kisan Mitra AI serves the farmer assistant: multilingual chat backed by
Gemini, voice command navigation, and the government connect desk.

Run "kisan-mitra serve" to start the HTTP server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.LogLevel, cfg.LogDevelopment)
		if err != nil {
			return err
		}
		logger.Debug("Configuration loaded",
			zap.String("model", cfg.GeminiModel),
			zap.String("database", cfg.DatabaseURL))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, languagesCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
