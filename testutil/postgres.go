package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/onnwee/chatcaptions/db"
)

// SetupTestDB connects to TEST_PG_DSN and applies the schema. Tests that
// need Postgres are skipped when the variable is unset.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		t.Fatalf("ping test database: %v", err)
	}
	if err := db.Migrate(ctx, database); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return database
}

// SeedVOD registers a VOD row and removes it, with its chat and caption
// track, when the test ends.
func SeedVOD(t *testing.T, database *sql.DB, vodID string, date time.Time) {
	t.Helper()
	if err := db.EnsureVOD(context.Background(), database, vodID, date); err != nil {
		t.Fatalf("EnsureVOD(%s) error = %v", vodID, err)
	}
	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM vods WHERE twitch_vod_id=$1`, vodID)
	})
}
