package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keywheel/keywheel/internal/config"
	"github.com/keywheel/keywheel/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, and version information. Keys are never printed.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()

		log.Info("=== keywheel Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + config.AppName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info("")

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Configuration:")
		log.Info("  Server:         "+fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), zap.String("host", cfg.Server.Host), zap.Int("port", cfg.Server.Port))
		log.Info("  API Path:       "+cfg.API.Path, zap.String("api_path", cfg.API.Path))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port), zap.Bool("metrics_enabled", cfg.Metrics.Enabled))
		log.Info(fmt.Sprintf("  Admin Endpoint: %t", strings.TrimSpace(cfg.Server.AdminToken) != ""))
		log.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		log.Info("")

		log.Info("Pool:")
		log.Info(fmt.Sprintf("  Credentials:    %d", len(cfg.Pool.Credentials)), zap.Int("credentials", len(cfg.Pool.Credentials)))
		log.Info(fmt.Sprintf("  Default Limits: %d rpm, %d tpm, %d/day",
			cfg.Pool.Defaults.RequestsPerMinute, cfg.Pool.Defaults.TokensPerMinute, cfg.Pool.Defaults.DailyTokenLimit))
		if cfg.Pool.File != "" {
			log.Info("  Pool File:      " + cfg.Pool.File)
		}
		log.Info("")

		log.Info("Journal:")
		log.Info(fmt.Sprintf("  Enabled:        %t", cfg.Journal.Enabled), zap.Bool("journal_enabled", cfg.Journal.Enabled))
		log.Info("  Driver:         "+cfg.Journal.Driver, zap.String("db_driver", cfg.Journal.Driver))
		if strings.TrimSpace(cfg.Journal.URL) != "" {
			log.Info("  URL:            "+cfg.Journal.URL, zap.String("db_url", cfg.Journal.URL))
		} else {
			log.Info("  Path:           "+cfg.Journal.Path, zap.String("db_path", cfg.Journal.Path))
		}
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
