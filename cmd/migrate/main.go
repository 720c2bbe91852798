package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jo-hoe/buracos/internal/core"
)

// migrate applies pending schema migrations, seeds the admin account and exits.
func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	config, configPath, err := core.ResolveConfig()
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	core.SetupLogging(config)

	coreService, err := core.NewCoreService(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := coreService.Close(); err != nil {
			slog.Error("failed to close core service", "error", err)
		}
	}()

	if err := coreService.SeedAdmin(ctx); err != nil {
		return err
	}

	version, err := coreService.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	slog.Info("database ready",
		"type", config.Database.Type,
		"connection", config.Database.ConnectionString,
		"schema_version", version)
	return nil
}
