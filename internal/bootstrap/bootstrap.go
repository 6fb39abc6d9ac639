// Package bootstrap opens the stores named in the configuration and wires
// them for the server and worker binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/cygnusb2b/fortnight-graph/internal/config"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/logger"
	"github.com/cygnusb2b/fortnight-graph/internal/repository/dynamo"
	"github.com/cygnusb2b/fortnight-graph/internal/repository/memory"
	mongorepo "github.com/cygnusb2b/fortnight-graph/internal/repository/mongo"
	"github.com/cygnusb2b/fortnight-graph/internal/repository/postgres"
	redisrepo "github.com/cygnusb2b/fortnight-graph/internal/repository/redis"
	"github.com/cygnusb2b/fortnight-graph/internal/service/analytics"
	"github.com/cygnusb2b/fortnight-graph/internal/storage"
)

// SetupLogging applies the log section to the package logger.
func SetupLogging(c config.LogConfig) {
	logger.SetLevel(logger.ParseLevel(c.Level))
	logger.SetRedactIP(c.ShouldRedactIP())
}

// Resources holds the open connections. Members are nil when unconfigured.
type Resources struct {
	DB    *sql.DB
	Redis *redis.Client

	cfg     *config.Config
	aws     *storage.AWS
	closers []func() error
}

// Open connects to PostgreSQL and Redis when they are configured.
func Open(ctx context.Context, cfg *config.Config) (*Resources, error) {
	r := &Resources{cfg: cfg}

	if cfg.Database.URL != "" {
		db, err := OpenDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		r.DB = db
		r.closers = append(r.closers, db.Close)
		logger.Info("connected to database")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// The cache degrades to direct loads, so an unreachable Redis
			// at boot is not fatal.
			logger.Warn("redis ping failed", "addr", cfg.Redis.Addr, "error", err)
		}
		r.Redis = client
		r.closers = append(r.closers, client.Close)
	}
	return r, nil
}

// OpenDB opens and pings a PostgreSQL pool.
func OpenDB(ctx context.Context, c config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", c.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetime) * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// AWS loads the AWS config on first use.
func (r *Resources) AWS(ctx context.Context) (*storage.AWS, error) {
	if r.aws != nil {
		return r.aws, nil
	}
	a, err := storage.LoadAWS(ctx, r.cfg.AWS)
	if err != nil {
		return nil, err
	}
	r.aws = a
	return a, nil
}

// Catalog returns the campaign, placement and template store: PostgreSQL
// when a database is configured, otherwise fixtures loaded into memory.
// Redis, when present, fronts it with a read-through cache.
func (r *Resources) Catalog() (redisrepo.Store, error) {
	var store redisrepo.Store
	switch {
	case r.DB != nil:
		store = postgres.NewCatalog(r.DB)
	case r.cfg.Database.FixturesPath != "":
		mem := memory.NewStore()
		if err := mem.LoadFixtures(r.cfg.Database.FixturesPath); err != nil {
			return nil, err
		}
		logger.Info("serving catalog from fixtures", "path", r.cfg.Database.FixturesPath)
		store = mem
	default:
		return nil, errors.New("no catalog configured: set database.url or database.fixtures_path")
	}
	if r.Redis != nil {
		store = redisrepo.NewCachedStore(store, r.Redis, r.cfg.Redis.CacheTTL())
	}
	return store, nil
}

// CounterStore opens the analytics backend selected by analytics.store.
func (r *Resources) CounterStore(ctx context.Context) (analytics.CounterStore, error) {
	a := r.cfg.Analytics
	switch a.Store {
	case config.StorePostgres:
		if r.DB == nil {
			return nil, fmt.Errorf("analytics store %q requires a database", a.Store)
		}
		return postgres.NewCounterRepo(r.DB), nil
	case config.StoreRedis:
		if r.Redis == nil {
			return nil, fmt.Errorf("analytics store %q requires redis", a.Store)
		}
		return redisrepo.NewCounterStore(r.Redis), nil
	case config.StoreDynamo:
		aws, err := r.AWS(ctx)
		if err != nil {
			return nil, err
		}
		return dynamo.NewCounterStore(aws.DynamoDB(), a.DynamoTable, a.Retention()), nil
	case config.StoreMongo:
		client, coll, err := mongorepo.Connect(ctx, r.cfg.Mongo.URI, r.cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() error { return client.Disconnect(context.Background()) })
		if err := mongorepo.EnsureIndexes(ctx, coll); err != nil {
			return nil, err
		}
		return mongorepo.NewCounterStore(coll), nil
	case config.StoreMemory:
		return memory.NewCounterStore(), nil
	default:
		return nil, fmt.Errorf("unknown analytics store %q", a.Store)
	}
}

// Close releases every opened connection in reverse order.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			logger.Warn("close resource", "error", err)
		}
	}
	r.closers = nil
}
