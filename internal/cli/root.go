// Package cli implements the chloe commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ent0n29/chloe/internal/app"
	"github.com/ent0n29/chloe/internal/config"
	"github.com/ent0n29/chloe/internal/conversation"
)

var (
	storeURL   string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "chloe",
	Short: "Chat bot with a compressing conversation memory",
	Long: "Chloe answers chat messages in persona, keeps the conversation in a store " +
		"and folds older turns into summaries when the context grows too large.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&storeURL, "store", "s", "", "Store URL (default: $STORE_URL, empty for in-memory)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: json or text")
}

// loadConfig reads the environment and applies command-line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if strings.TrimSpace(storeURL) != "" {
		cfg.StoreURL = strings.TrimSpace(storeURL)
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()

	logLevel := zapcore.InfoLevel
	if level != "" {
		if err := logLevel.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	return zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

// openConversation builds the reply pipeline for one-shot commands. One-shot
// commands log warnings and up so their stdout stays readable.
func openConversation(ctx context.Context) (*conversation.Orchestrator, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if level == "info" {
		level = "warn"
	}
	logger, err := newLogger(level)
	if err != nil {
		return nil, nil, err
	}
	conv, store, _, err := app.BuildConversation(ctx, cfg, logger, nil)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return conv, func() {
		_ = store.Close()
		_ = logger.Sync()
	}, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
