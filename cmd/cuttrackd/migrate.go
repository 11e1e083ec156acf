package main

import (
	"context"
	"fmt"
	"log/slog"
)

// MigrateCmd applies the store schema and exits.
type MigrateCmd struct{}

// Run opens the configured store and migrates it.
func (m *MigrateCmd) Run(g *Globals) error {
	ctx := context.Background()
	st, err := openStore(ctx, g.Config.Store, g.Logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s store: %w", g.Config.Store.Driver, err)
	}
	g.Logger.Info("store migrated", slog.String("driver", g.Config.Store.Driver))
	return nil
}
