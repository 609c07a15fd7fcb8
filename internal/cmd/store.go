package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/keywheel/keywheel/internal/config"
	"github.com/keywheel/keywheel/internal/core/store"
)

// openJournal opens the usage journal described by cfg and applies migrations.
func openJournal(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// openConfiguredJournal opens the journal for CLI use. The journal.enabled
// switch only governs whether the server writes events.
func openConfiguredJournal(ctx context.Context) (*store.Store, error) {
	cfg, err := config.LoadJournal(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openJournal(ctx, cfg)
}
