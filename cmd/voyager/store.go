package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oestradiol/Voyager-Backend/db"
	"github.com/oestradiol/Voyager-Backend/internal/app/migrate"
	"github.com/oestradiol/Voyager-Backend/internal/repository"
	"github.com/oestradiol/Voyager-Backend/internal/repository/mongodb"
	"github.com/oestradiol/Voyager-Backend/internal/repository/postgres"
	"github.com/oestradiol/Voyager-Backend/pkg/config"
)

// openStore connects the deployment store chosen by STORE_DRIVER and returns
// a func that releases it.
func openStore(ctx context.Context, cfg config.VoyagerConfig, log *slog.Logger) (repository.DeploymentRepository, func(), error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "", "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, db.Migrations, db.MigrationsDir, log)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("configure migrations: %w", err)
		}
		if err := runner.Ping(ctx); err != nil {
			runner.Close()
			return nil, nil, fmt.Errorf("database ping: %w", err)
		}
		if err := runner.Ensure(ctx); err != nil {
			runner.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		log.Info("deployment store ready", "driver", "postgres")
		return postgres.New(pool), runner.Close, nil
	case "mongo", "mongodb":
		repo, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
		}
		log.Info("deployment store ready", "driver", "mongodb", "database", cfg.MongoDatabase)
		return repo, func() {
			if err := repo.Close(context.Background()); err != nil {
				log.Warn("failed to close mongodb client", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
