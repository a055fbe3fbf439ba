package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"lexicon/api/internal/logger"
)

// Migration is one numbered schema change. Version is the up script's file
// name, which is what schema_migrations stores.
type Migration struct {
	Number   string
	Version  string
	Up       string
	Down     string
	Checksum string
}

var migrationFile = regexp.MustCompile(`^(\d+)_[A-Za-z0-9_]+\.(up|down)\.sql$`)

// migrationLockKey serializes migrations across API instances starting at once.
const migrationLockKey = 0x6c6578 // "lex"

// LoadMigrations reads dir and pairs every up script with its down script,
// ordered by number. Other files are ignored.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byNumber := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		number, direction := match[1], match[2]
		contents, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		m := byNumber[number]
		if m == nil {
			m = &Migration{Number: number}
			byNumber[number] = m
		}
		switch direction {
		case "up":
			if m.Version != "" {
				return nil, fmt.Errorf("migration %s has two up scripts", number)
			}
			sum := sha256.Sum256(contents)
			m.Version, m.Up, m.Checksum = entry.Name(), string(contents), hex.EncodeToString(sum[:])
		case "down":
			if m.Down != "" {
				return nil, fmt.Errorf("migration %s has two down scripts", number)
			}
			m.Down = string(contents)
		}
	}

	migrations := make([]Migration, 0, len(byNumber))
	for number, m := range byNumber {
		if m.Version == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s needs both an up and a down script", number)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Number < migrations[j].Number })
	return migrations, nil
}

// ApplyMigrations runs every pending up script in its own transaction while
// holding an advisory lock. A script edited after it was applied is logged,
// never re-run.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return err
	}

	return withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		if err := ensureMigrationsTable(ctx, conn); err != nil {
			return err
		}
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}

		count := 0
		for _, m := range migrations {
			if checksum, ok := applied[m.Version]; ok {
				switch checksum {
				case m.Checksum:
				case "":
					if _, err := conn.ExecContext(ctx, `UPDATE schema_migrations SET checksum=$2 WHERE version=$1`, m.Version, m.Checksum); err != nil {
						return fmt.Errorf("backfill checksum of %s: %w", m.Version, err)
					}
				default:
					log.Warn("applied migration changed on disk", "version", m.Version)
				}
				log.Debug("migration already applied", "version", m.Version)
				continue
			}

			if err := inTx(ctx, conn, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, m.Up); err != nil {
					return fmt.Errorf("execute migration %s: %w", m.Version, err)
				}
				if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, checksum) VALUES($1, $2)`, m.Version, m.Checksum); err != nil {
					return fmt.Errorf("record migration %s: %w", m.Version, err)
				}
				return nil
			}); err != nil {
				return err
			}
			count++
			log.Info("migration applied", "version", m.Version)
		}
		log.Info("schema up to date", "applied", count, "total", len(migrations))
		return nil
	})
}

// RevertMigrations runs the down scripts of every applied migration, newest
// first, and forgets them.
func RevertMigrations(ctx context.Context, db *sql.DB, dir string, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return err
	}

	return withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		if err := ensureMigrationsTable(ctx, conn); err != nil {
			return err
		}
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		for i := len(migrations) - 1; i >= 0; i-- {
			m := migrations[i]
			if _, ok := applied[m.Version]; !ok {
				continue
			}
			if err := inTx(ctx, conn, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, m.Down); err != nil {
					return fmt.Errorf("revert migration %s: %w", m.Version, err)
				}
				if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, m.Version); err != nil {
					return fmt.Errorf("forget migration %s: %w", m.Version, err)
				}
				return nil
			}); err != nil {
				return err
			}
			log.Info("migration reverted", "version", m.Version)
		}
		return nil
	})
}

func withMigrationLock(ctx context.Context, db *sql.DB, fn func(*sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()
	return fn(conn)
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT '';
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()
	applied := map[string]string{}
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}
