package store

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
	teardown      func(ctx context.Context, opts ...testcontainers.TerminateOption) error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if teardown != nil {
		if err := teardown(context.Background()); err != nil {
			log.Printf("terminate postgres container: %v", err)
		}
	}
	os.Exit(code)
}

// openTestDB returns a connection to LEXICON_TEST_DATABASE_URL when set and
// otherwise to a throwaway postgres container shared by the package.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dsn := strings.TrimSpace(os.Getenv("LEXICON_TEST_DATABASE_URL"))
	if dsn == "" {
		containerOnce.Do(startPostgresContainer)
		if containerErr != nil {
			t.Skipf("postgres container unavailable: %v", containerErr)
		}
		dsn = containerDSN
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn, PoolConfig{MaxOpenConns: 5, ConnectAttempts: 3}, nil)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func startPostgresContainer() {
	ctx := context.Background()
	pgContainer, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lexicon"),
		postgres.WithUsername("lexicon"),
		postgres.WithPassword("lexicon"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		containerErr = err
		return
	}
	teardown = pgContainer.Terminate

	containerDSN, containerErr = pgContainer.ConnectionString(ctx, "sslmode=disable")
}

// migratedStore applies the migrations and empties every table.
func migratedStore(t *testing.T) *PostgresStore {
	t.Helper()
	db := openTestDB(t)
	ctx := context.Background()
	if err := ApplyMigrations(ctx, db, "../../db/migrations", nil); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		TRUNCATE words, examples, corpora, word_suggestions, example_suggestions, corpus_suggestions, merge_records
	`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewPostgresStore(db)
}
