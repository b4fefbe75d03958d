// Package migration applies ordered, idempotent SQL migration and seed
// files to a tenant database, tracking applied files in a bookkeeping
// table inside that database.
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

const (
	bookkeepingTable = "schema_migrations_log"

	// seedKeyPrefix keeps seed and migration namespaces from colliding
	// in the shared bookkeeping table.
	seedKeyPrefix = "seed:"
)

// Options controls a migration run.
type Options struct {
	Seed bool
}

// Runner applies the SQL files found in two fixed directories. File
// names encode the intended order: files apply in lexical sort order.
type Runner struct {
	MigrationsDir string
	SeedsDir      string
}

// Run applies all unapplied migration files (and seed files when
// requested) to the database at databaseURL. Each file executes inside
// its own transaction together with its bookkeeping record; a failing
// file rolls back alone and aborts the run, leaving prior files
// committed. Running twice is a no-op on the second run.
func (r *Runner) Run(ctx context.Context, databaseURL string, opts Options) error {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("parse tenant database url: %w", err)
	}
	db := stdlib.OpenDB(*cfg)
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to tenant database: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (name text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`,
		bookkeepingTable)); err != nil {
		return fmt.Errorf("ensure bookkeeping table: %w", err)
	}

	applied, err := appliedSet(ctx, db)
	if err != nil {
		return err
	}

	if err := r.applyDir(ctx, db, r.MigrationsDir, "", applied); err != nil {
		return err
	}

	if opts.Seed {
		if err := r.applyDir(ctx, db, r.SeedsDir, seedKeyPrefix, applied); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) applyDir(ctx context.Context, db *sql.DB, dir, keyPrefix string, applied map[string]bool) error {
	files, err := listSQLFiles(dir)
	if err != nil {
		return err
	}

	for _, name := range files {
		key := keyPrefix + name
		if applied[key] {
			continue
		}
		if err := applyFile(ctx, db, filepath.Join(dir, name), key); err != nil {
			return err
		}
		applied[key] = true
		log.Info().Str("file", key).Msg("Applied")
	}
	return nil
}

func appliedSet(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM %s`, bookkeepingTable))
	if err != nil {
		return nil, fmt.Errorf("load applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// applyFile executes one SQL file and records its bookkeeping key in the
// same transaction.
func applyFile(ctx context.Context, db *sql.DB, path, key string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		tx.Rollback()
		return fmt.Errorf("apply %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (name) VALUES ($1)`, bookkeepingTable), key); err != nil {
		tx.Rollback()
		return fmt.Errorf("record %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

// listSQLFiles returns the .sql file names in dir in lexical sort order.
// This ordering is the authoritative sequencing mechanism.
func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}
