package storage

import (
	"context"
	"os"
	"testing"

	logx "remindbot/pkg/logx"
)

// Set REMINDBOT_TEST_PG_DSN to a disposable database to run these.
func openTestPostgres(t *testing.T) Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	dsn := os.Getenv("REMINDBOT_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("REMINDBOT_TEST_PG_DSN not set")
	}
	st, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	pg := st.(*postgresStore)
	if _, err := pg.pool.Exec(context.Background(), `TRUNCATE entries, sent_markers`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPostgresStore_Contract(t *testing.T) {
	st := openTestPostgres(t)
	testStoreContract(t, st)
	testConcurrentClaims(t, st)
}
