package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/config"
)

func main() {
	dir := flag.String("dir", filepath.Join("db", "migrations"), "directory holding *.sql migrations")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	cfg.ConfigureLogging()

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.DB.DSN())
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer database.Close()

	n, err := migrate(ctx, db, *dir)
	if err != nil {
		log.WithError(err).Fatal("migration failed")
	}
	log.WithField("applied", n).Info("migrations complete")
}

// migrate applies every not yet recorded file in dir, in name order.
func migrate(ctx context.Context, db *sqlx.DB, dir string) (int, error) {
	if _, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            version TEXT PRIMARY KEY,
            applied_at timestamptz NOT NULL DEFAULT now()
        )`); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	files, err := collectSQLFiles(dir)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		log.WithField("dir", dir).Warn("no migration files found")
		return 0, nil
	}

	var versions []string
	if err := db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations"); err != nil {
		return 0, fmt.Errorf("read schema_migrations: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	count := 0
	for _, f := range files {
		name := filepath.Base(f)
		if applied[name] {
			continue
		}
		b, err := os.ReadFile(f)
		if err != nil {
			return count, err
		}
		up := extractUp(string(b))
		if strings.TrimSpace(up) != "" {
			log.WithField("migration", name).Info("applying")
			if err := execStatements(ctx, db, up); err != nil {
				return count, fmt.Errorf("%s: %w", name, err)
			}
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING", name, time.Now()); err != nil {
			return count, fmt.Errorf("mark %s applied: %w", name, err)
		}
		count++
	}
	return count, nil
}

func collectSQLFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// extractUp returns the section between "-- +goose Up" and "-- +goose Down".
// Files without markers are treated as entirely Up.
func extractUp(content string) string {
	lower := strings.ToLower(content)
	upIdx := strings.Index(lower, "-- +goose up")
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx:]
	if nl := strings.Index(rest, "\n"); nl != -1 {
		rest = rest[nl+1:]
	} else {
		rest = ""
	}
	if down := strings.Index(strings.ToLower(rest), "-- +goose down"); down != -1 {
		rest = rest[:down]
	}
	return rest
}

// execStatements splits on ';' and tolerates "already exists" errors so a
// partially applied file can be re-run.
func execStatements(ctx context.Context, db *sqlx.DB, sql string) error {
	for _, raw := range strings.Split(sql, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate") {
				log.WithError(err).WithField("stmt", short(stmt)).Debug("ignoring idempotent error")
				continue
			}
			return fmt.Errorf("statement %q: %w", short(stmt), err)
		}
	}
	return nil
}

func short(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
