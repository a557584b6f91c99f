package storage

import (
	"context"
	"os"
	"testing"
	"time"

	logx "remindbot/pkg/logx"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		t.Skip("skipping Docker-based tests in CI environment")
	}
}

func setupMongo(t *testing.T) *mongoStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}
	skipIfNoDocker(t)

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Skipf("failed to start MongoDB container (Docker may not be available): %v", err)
	}
	uri, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("failed to get MongoDB connection string: %v", err)
	}
	st, err := newMongoStore(uri, "remindbot_test", logx.Nop())
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("failed to create MongoDB store: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close()
		_ = container.Terminate(ctx)
	})
	return st
}

func TestMongoStore(t *testing.T) {
	st := setupMongo(t)

	t.Run("contract", func(t *testing.T) {
		testStoreContract(t, st)
	})
	t.Run("concurrent claims", func(t *testing.T) {
		testConcurrentClaims(t, st)
	})
	t.Run("expired marker", func(t *testing.T) {
		ctx := context.Background()
		base := time.Now()
		if ok, err := st.ClaimOccurrence(ctx, "exp:2024", base.Add(-time.Second)); err != nil || !ok {
			t.Fatalf("seed claim ok=%v err=%v", ok, err)
		}
		if ok, err := st.ClaimOccurrence(ctx, "exp:2024", base.Add(time.Hour)); err != nil || !ok {
			t.Fatalf("reclaim expired ok=%v err=%v", ok, err)
		}
		m, found, err := st.marker(ctx, "exp:2024")
		if err != nil || !found {
			t.Fatalf("marker lookup found=%v err=%v", found, err)
		}
		if m.Until.Before(base) {
			t.Fatalf("marker until not refreshed: %v", m.Until)
		}
	})
}
