// Command migrate-tokens encrypts OAuth tokens stored in plaintext
// (encryption_version=0) with the AES-256-GCM key in ENCRYPTION_KEY, so that
// an installation can turn on encryption without re-authorizing YouTube.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--provider youtube]
//
// DB_DSN and ENCRYPTION_KEY must be set.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/chatcaptions/crypto"
)

// tokenRow is a plaintext oauth_tokens row.
type tokenRow struct {
	Provider     string
	AccessToken  string
	RefreshToken string
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	provider := flag.String("provider", "", "Migrate the token of one provider only (default: all)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	encryptor, err := crypto.NewAESEncryptor(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		slog.Error("ENCRYPTION_KEY missing or invalid", slog.Any("error", err))
		os.Exit(1)
	}

	database, err := sql.Open("pgx", dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}
	if _, err := migrateTokens(ctx, database, encryptor, *dryRun, *provider); err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("migration completed successfully")
}

// migrateTokens encrypts every plaintext token, or only providerFilter's when set,
// and returns how many rows were (or in dry-run mode would be) migrated.
func migrateTokens(ctx context.Context, database *sql.DB, encryptor crypto.Encryptor, dryRun bool, providerFilter string) (int, error) {
	query := `SELECT provider, COALESCE(access_token,''), COALESCE(refresh_token,'')
		FROM oauth_tokens WHERE COALESCE(encryption_version,0) = 0`
	var args []any
	if providerFilter != "" {
		query += ` AND provider = $1`
		args = append(args, providerFilter)
	}
	query += ` ORDER BY provider`

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query plaintext tokens: %w", err)
	}
	var tokens []tokenRow
	for rows.Next() {
		var tr tokenRow
		if err := rows.Scan(&tr.Provider, &tr.AccessToken, &tr.RefreshToken); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan token row: %w", err)
		}
		tokens = append(tokens, tr)
	}
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", slog.Any("err", err))
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate token rows: %w", err)
	}

	if len(tokens) == 0 {
		slog.Info("no plaintext tokens found to migrate")
		return 0, nil
	}
	slog.Info("found plaintext tokens to migrate", slog.Int("count", len(tokens)), slog.Bool("dry_run", dryRun))

	migrated, failed := 0, 0
	for i, tr := range tokens {
		logger := slog.With(slog.String("provider", tr.Provider), slog.Int("index", i+1), slog.Int("total", len(tokens)))
		if dryRun {
			logger.Info("would migrate token (dry-run)")
			migrated++
			continue
		}
		if err := migrateToken(ctx, database, encryptor, tr); err != nil {
			logger.Error("failed to migrate token", slog.Any("error", err))
			failed++
			continue
		}
		logger.Info("migrated token")
		migrated++
	}
	slog.Info("migration summary", slog.Int("migrated", migrated), slog.Int("errors", failed), slog.Bool("dry_run", dryRun))
	if failed > 0 {
		return migrated, fmt.Errorf("migration completed with %d errors", failed)
	}
	return migrated, nil
}

// migrateToken rewrites one row encrypted. The version guard keeps a
// concurrent writer's already-encrypted token intact.
func migrateToken(ctx context.Context, database *sql.DB, encryptor crypto.Encryptor, tr tokenRow) error {
	access, err := crypto.EncryptString(encryptor, tr.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := crypto.EncryptString(encryptor, tr.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	res, err := database.ExecContext(ctx, `UPDATE oauth_tokens
		SET access_token=$2, refresh_token=$3, encryption_version=1, encryption_key_id='default', updated_at=NOW()
		WHERE provider=$1 AND COALESCE(encryption_version,0)=0`, tr.Provider, access, refresh)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("token for %s changed during migration", tr.Provider)
	}
	return nil
}
