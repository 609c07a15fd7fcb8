package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/keywheel/keywheel/internal/config"
	"github.com/keywheel/keywheel/internal/core"
	"github.com/keywheel/keywheel/internal/core/engine"
	"github.com/keywheel/keywheel/internal/core/store"
	errwrap "github.com/keywheel/keywheel/internal/errors"
	"github.com/keywheel/keywheel/internal/metrics"
	"github.com/keywheel/keywheel/internal/observability"
	"github.com/keywheel/keywheel/internal/server"
	"github.com/keywheel/keywheel/internal/server/handlers"
)

const telemetryNamespace = "keywheel"

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil // Signal handlers are registered before the server starts
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// journalHealthChecker pings the usage journal database.
type journalHealthChecker struct {
	store *store.Store
}

func (j journalHealthChecker) CheckHealth(ctx context.Context) error {
	if err := j.store.Ping(ctx); err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "journal unreachable")
	}
	return nil
}

// reactivator is the slice of the pool the reload hook needs.
type reactivator interface {
	Reactivate() []string
}

// poolMembershipChanged reports whether the configured keys differ from the
// running pool, ignoring order.
func poolMembershipChanged(running, configured []core.Credential) bool {
	if len(running) != len(configured) {
		return true
	}
	keys := make(map[string]struct{}, len(running))
	for _, cred := range running {
		keys[cred.Key] = struct{}{}
	}
	for _, cred := range configured {
		if _, ok := keys[cred.Key]; !ok {
			return true
		}
	}
	return false
}

// reactivateCredentials returns failed credentials to rotation and journals
// each one. Journal errors are logged and skipped.
func reactivateCredentials(ctx context.Context, pool reactivator, journal handlers.Journal) []string {
	names := pool.Reactivate()
	for _, name := range names {
		if journal == nil {
			continue
		}
		err := journal.RecordEvent(ctx, store.Event{
			Credential: name,
			Kind:       store.EventReactivated,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			metrics.RecordJournalWriteError(string(store.EventReactivated))
			if logger := observability.ServerLogger; logger != nil {
				logger.Warn("Failed to record reactivation",
					zap.String("credential", name),
					zap.Error(err))
			}
		}
	}
	return names
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the credential rotation server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload config and return failed credentials to rotation

Pool membership and limits are read at startup; changing them requires a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "invalid configuration")
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, telemetryNamespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, cfg.Metrics.Port, telemetryNamespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		pool := engine.NewPool(cfg.Pool.EngineCredentials())
		summary := pool.Summary()
		metrics.SetPoolGauges(summary.Active, summary.Eligible)

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("api_path", cfg.API.Path),
			zap.Int("credentials", summary.Total),
			zap.Int("active_credentials", summary.Active),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
			zap.Int("metrics_port", observability.GetMetricsPort()))

		keyOpts := []handlers.KeyOption{handlers.WithBasePath(cfg.API.Path)}

		var journal *store.Store
		if cfg.Journal.Enabled {
			journal, err = openJournal(ctx, cfg.Journal)
			if err != nil {
				logger.Error("Failed to open usage journal", zap.Error(err))
				return errwrap.WrapDatabaseError(ctx, err, "journal initialization failed")
			}
			keyOpts = append(keyOpts, handlers.WithJournal(journal))
			logger.Info("Usage journal enabled", zap.String("driver", journal.Driver()))
		}

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal_handlers", signalHealthChecker{})
		hm.RegisterChecker("credential_pool", handlers.PoolHealthChecker{Pool: pool})
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		if journal != nil {
			hm.RegisterChecker("journal", journalHealthChecker{store: journal})
		}

		handlers.SetAppName(config.AppName)

		srv := server.New(cfg.Server.Host, cfg.Server.Port,
			server.WithKeyHandler(handlers.NewKeyHandler(pool, keyOpts...)),
			server.WithAdminToken(cfg.Server.AdminToken),
			server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := observability.Flush(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		// Handler 2: Stop metrics exporter and close the journal
		signals.OnShutdown(func(ctx context.Context) error {
			if err := observability.StopMetrics(); err != nil {
				logger.Warn("Failed to stop metrics exporter", zap.Error(err))
			}
			if journal != nil {
				if err := journal.Close(); err != nil {
					logger.Warn("Failed to close usage journal", zap.Error(err))
				}
			}
			return nil
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		// SIGHUP: re-read config, then return failed credentials to rotation
		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: reloading configuration")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					logger.Error("Failed to reload config file",
						zap.String("file", viper.ConfigFileUsed()),
						zap.Error(err))
					return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
				}
			}

			reloaded, err := loadConfig(ctx)
			if err != nil {
				logger.Error("Reloaded configuration is invalid", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			if poolMembershipChanged(pool.Snapshot(), reloaded.Pool.EngineCredentials()) {
				logger.Warn("Pool membership changed on disk; restart to apply",
					zap.Int("running", pool.Len()),
					zap.Int("configured", len(reloaded.Pool.Credentials)))
			}

			var j handlers.Journal
			if journal != nil {
				j = journal
			}
			names := reactivateCredentials(ctx, pool, j)

			summary := pool.Summary()
			metrics.SetPoolGauges(summary.Active, summary.Eligible)
			logger.Info("Configuration reloaded",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Strings("reactivated", names),
				zap.Int("active_credentials", summary.Active))
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
