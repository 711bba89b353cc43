package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"rca-orchestrator/backend/internal/config"
	"rca-orchestrator/backend/internal/logging"
	"rca-orchestrator/backend/internal/repository"
)

func openJobStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.JobStore, error) {
	if cfg.JobStore.Driver != "redis" {
		logger.Info("Using in-memory job store")
		return repository.NewMemoryJobStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("Using redis job store", "addr", cfg.Redis.Addr, "ttl", cfg.JobStore.TTL)
	return repository.NewRedisJobStore(client, cfg.JobStore.KeyPrefix, cfg.JobStore.TTL), nil
}

// openLearningStore opens the configured learning store and brings its schema up to date.
func openLearningStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.LearningStore, error) {
	if cfg.LearningStore.Driver != "postgres" {
		store, err := repository.NewSQLiteLearningStore(cfg.LearningStore.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Using sqlite learning store", "path", cfg.LearningStore.SQLitePath)
		return store, nil
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	store := repository.NewPostgresLearningStore(pool)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	logger.Info("Using postgres learning store", "host", cfg.DB.Host, "db", cfg.DB.Name)
	return store, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func migrate(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	store, err := openLearningStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer store.Close()
	logger.Info("Learning store schema is up to date", "driver", cfg.LearningStore.Driver)
	return nil
}
