package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/MrEthical07/authkit/store/storetest"
	"github.com/MrEthical07/authkit/token"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// setupTestDB starts a PostgreSQL container and returns a migrated Store.
// Tests are skipped when no container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if testing.Short() || os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("skipping PostgreSQL integration tests")
	}

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("authkit_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		pgmodule.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	store, err := New(ctx, Config{DSN: dsn, MaxConns: 5, MigrateOnStart: true}, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func truncate(t *testing.T, s *Store) {
	t.Helper()
	if _, err := s.pool.Exec(context.Background(), `TRUNCATE access_tokens, refresh_tokens, otps`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	s := setupTestDB(t)

	storetest.Run(t, func(t *testing.T) token.Store {
		truncate(t, s)
		return s
	})

	t.Run("MigrationsIdempotent", func(t *testing.T) {
		if err := s.migrate(context.Background()); err != nil {
			t.Fatalf("second migrate: %v", err)
		}
	})

	t.Run("PurgeExpiredOTPs", func(t *testing.T) {
		truncate(t, s)
		ctx := context.Background()
		now := time.Now().UTC()
		live := &token.OTP{AccessToken: "tok", Factor: "email", Code: "111111", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
		if err := s.CreateOTP(ctx, live); err != nil {
			t.Fatalf("create: %v", err)
		}

		s.now = func() time.Time { return now.Add(2 * time.Minute) }
		defer func() { s.now = time.Now }()

		if _, err := s.FindOTP(ctx, "tok", "email", "111111"); err == nil {
			t.Fatal("expected expired code to be hidden")
		}
		n, err := s.PurgeExpiredOTPs(ctx)
		if err != nil || n != 1 {
			t.Fatalf("expected one purged code, got %d, %v", n, err)
		}
	})
}
