package bootstrap

import (
	"context"
	"fmt"

	"github.com/artpar/tutorquota/adapters/postgres"
	"github.com/artpar/tutorquota/adapters/redis"
	"github.com/artpar/tutorquota/adapters/sqlite"
	"github.com/artpar/tutorquota/config"
	"github.com/artpar/tutorquota/ports"
	"github.com/rs/zerolog"
)

// redisKeyPrefix namespaces every key the Redis stores write.
const redisKeyPrefix = "tutorquota:"

// sqliteBusyTimeoutMs is how long a SQLite writer waits on a locked database.
const sqliteBusyTimeoutMs = 5000

// PlanAssigner records which plan a user is on.
type PlanAssigner interface {
	Assign(ctx context.Context, userID, planID string) error
}

// Stores is the set of persistence adapters backing one database driver.
type Stores struct {
	Driver   string
	Usage    ports.UsageEventStore
	Pruner   ports.UsagePruner
	Sessions ports.SessionStore
	Plans    ports.PlanResolver
	Assigner PlanAssigner
	Health   ports.HealthChecker

	close func() error
}

// Close releases the underlying connection.
func (s *Stores) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStores connects to the configured database, prepares its schema and
// returns the stores built on it. Sessions and plan assignments live in the
// same database as usage events.
func OpenStores(ctx context.Context, db config.DatabaseConfig, defaultPlan string, logger zerolog.Logger) (*Stores, error) {
	switch db.Driver {
	case "sqlite":
		return openSQLite(ctx, db.DSN, defaultPlan, logger)
	case "postgres":
		return openPostgres(ctx, db.DSN, defaultPlan, logger)
	case "redis":
		return openRedis(ctx, db.DSN, defaultPlan, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}

func openSQLite(ctx context.Context, dsn, defaultPlan string, logger zerolog.Logger) (*Stores, error) {
	db, err := sqlite.Open(dsn, sqliteBusyTimeoutMs)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	logger.Info().Str("driver", "sqlite").Str("path", dsn).Msg("database initialized")

	usageStore := sqlite.NewUsageStore(db)
	plans := sqlite.NewPlanStore(db, defaultPlan)
	return &Stores{
		Driver:   "sqlite",
		Usage:    usageStore,
		Pruner:   usageStore,
		Sessions: sqlite.NewSessionStore(db),
		Plans:    plans,
		Assigner: plans,
		Health:   db,
		close:    db.Close,
	}, nil
}

func openPostgres(ctx context.Context, dsn, defaultPlan string, logger zerolog.Logger) (*Stores, error) {
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	store := postgres.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	logger.Info().Str("driver", "postgres").Msg("database initialized")

	usageStore := postgres.NewUsageStore(store)
	plans := postgres.NewPlanStore(store, defaultPlan)
	return &Stores{
		Driver:   "postgres",
		Usage:    usageStore,
		Pruner:   usageStore,
		Sessions: postgres.NewSessionStore(store),
		Plans:    plans,
		Assigner: plans,
		Health:   store,
		close: func() error {
			store.Close()
			return nil
		},
	}, nil
}

func openRedis(ctx context.Context, url, defaultPlan string, logger zerolog.Logger) (*Stores, error) {
	client, err := redis.Connect(ctx, url)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("driver", "redis").Msg("database initialized")

	usageStore := redis.NewUsageStore(client, redis.WithKeyPrefix(redisKeyPrefix))
	plans := redis.NewPlanStore(client, redisKeyPrefix, defaultPlan)
	return &Stores{
		Driver:   "redis",
		Usage:    usageStore,
		Pruner:   usageStore,
		Sessions: redis.NewSessionStore(client, redisKeyPrefix),
		Plans:    plans,
		Assigner: plans,
		Health:   usageStore,
		close:    client.Close,
	}, nil
}
