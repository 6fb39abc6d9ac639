package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cygnusb2b/fortnight-graph/internal/bootstrap"
	"github.com/cygnusb2b/fortnight-graph/internal/config"
	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/distlock"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/logger"
	"github.com/cygnusb2b/fortnight-graph/internal/repository/postgres"
	"github.com/cygnusb2b/fortnight-graph/internal/templating"
	"github.com/cygnusb2b/fortnight-graph/internal/token"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	dir := flag.String("dir", "migrations", "directory of .sql migration files")
	list := flag.Bool("list", false, "list applied migrations and exit")
	validate := flag.Bool("validate-templates", false, "check every stored template for required helpers after migrating")
	flag.Parse()

	if err := run(*configPath, *dir, *list, *validate); err != nil {
		logger.Error("migrate failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(configPath, dir string, listOnly, validate bool) error {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	bootstrap.SetupLogging(cfg.Log)
	defer logger.Sync()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := bootstrap.OpenDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	if listOnly {
		applied, err := appliedVersions(ctx, db)
		if err != nil {
			return err
		}
		for _, v := range applied {
			fmt.Println(" ", v)
		}
		fmt.Printf("Total: %d migrations\n", len(applied))
		return nil
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	lock := distlock.NewLock(rdb, db, "migrate", 10*time.Minute)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if !ok {
		return errors.New("another migration is running")
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("release migration lock", "error", err)
		}
	}()

	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}
	applied, skipped, err := applyMigrations(ctx, db, files)
	logger.Info("migrations done", "applied", applied, "skipped", skipped)
	if err != nil {
		return err
	}

	if validate {
		signer, err := token.NewSigner("template-validation")
		if err != nil {
			return err
		}
		renderer := templating.NewRenderer(signer, templating.Config{BaseURL: cfg.Tracking.BaseURL})
		if errs := validateTemplates(ctx, postgres.NewPlacementRepo(db), renderer); len(errs) > 0 {
			for _, e := range errs {
				logger.Error("invalid template", "error", e)
			}
			return fmt.Errorf("%d invalid templates", len(errs))
		}
		logger.Info("all templates valid")
	}
	return nil
}

// migration is one .sql file. Version is the file name.
type migration struct {
	Version string
	Path    string
}

func migrationFiles(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var out []migration
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			out = append(out, migration{Version: e.Name(), Path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func appliedVersions(ctx context.Context, db *sql.DB) ([]string, error) {
	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// applyMigrations runs each pending file in its own transaction and stops at
// the first failure.
func applyMigrations(ctx context.Context, db *sql.DB, files []migration) (applied, skipped int, err error) {
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, 0, err
	}
	seen := make(map[string]bool, len(done))
	for _, v := range done {
		seen[v] = true
	}

	for _, m := range files {
		if seen[m.Version] {
			skipped++
			continue
		}
		data, err := os.ReadFile(m.Path)
		if err != nil {
			return applied, skipped, fmt.Errorf("read %s: %w", m.Path, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			skipped++
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, skipped, fmt.Errorf("begin %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			tx.Rollback()
			return applied, skipped, fmt.Errorf("apply %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
			tx.Rollback()
			return applied, skipped, fmt.Errorf("record %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, skipped, fmt.Errorf("commit %s: %w", m.Version, err)
		}
		logger.Info("applied migration", "version", m.Version)
		applied++
	}
	return applied, skipped, nil
}

type templateLister interface {
	ListTemplates(ctx context.Context) ([]domain.Template, error)
}

type templateValidator interface {
	ValidateTemplate(t domain.Template) error
}

func validateTemplates(ctx context.Context, repo templateLister, v templateValidator) []error {
	templates, err := repo.ListTemplates(ctx)
	if err != nil {
		return []error{err}
	}
	var errs []error
	for _, t := range templates {
		if err := v.ValidateTemplate(t); err != nil {
			errs = append(errs, fmt.Errorf("template %s: %w", t.ID, err))
		}
	}
	return errs
}
