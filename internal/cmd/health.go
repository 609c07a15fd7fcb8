package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keywheel/keywheel/internal/core/engine"
	errwrap "github.com/keywheel/keywheel/internal/errors"
	"github.com/keywheel/keywheel/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Check that version info, configuration and the credential pool would let the server start.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		if logger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Info("✅ Version information available", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid"))
			return
		}
		logger.Info("✅ Configuration loaded")

		summary := engine.NewPool(cfg.Pool.EngineCredentials()).Summary()
		if summary.Active == 0 {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "No active credentials", errwrap.NewConfigInvalidError("every configured credential is inactive"))
			return
		}
		logger.Info("✅ Credential pool ready",
			zap.Int("total", summary.Total),
			zap.Int("active", summary.Active))

		if cfg.Journal.Enabled {
			db, err := openJournal(cmd.Context(), cfg.Journal)
			if err != nil {
				ExitWithCode(logger, foundry.ExitFailure, "Usage journal unavailable", errwrap.WrapDatabaseError(cmd.Context(), err, "journal unavailable"))
				return
			}
			_ = db.Close()
			logger.Info("✅ Usage journal reachable", zap.String("driver", cfg.Journal.Driver))
		}

		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
