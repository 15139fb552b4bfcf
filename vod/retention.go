package vod

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// RetentionPolicy defines which VODs lose their stored chat and tracks.
type RetentionPolicy struct {
	// KeepDays: VODs older than this many days are purged (0 = disabled)
	KeepDays int
	// DryRun: When true, log actions but don't delete rows
	DryRun bool
	// Interval: How often to run the cleanup job
	Interval time.Duration
}

// RetentionResult summarizes one cleanup cycle. In dry-run mode the counts
// are what would have been deleted.
type RetentionResult struct {
	VODs     int `json:"vods"`
	Messages int `json:"messages"`
	Tracks   int `json:"tracks"`
	Errors   int `json:"errors"`
}

// StartRetentionJob runs a background job that periodically purges stored
// chat and caption tracks according to policy.
func StartRetentionJob(ctx context.Context, dbc *sql.DB, policy RetentionPolicy) {
	if policy.KeepDays <= 0 {
		slog.Info("retention job disabled (no policy configured)", slog.String("component", "retention_cleanup"))
		return
	}
	if policy.Interval <= 0 {
		policy.Interval = 6 * time.Hour
	}
	slog.Info("retention job starting",
		slog.String("component", "retention_cleanup"),
		slog.Int("keep_days", policy.KeepDays),
		slog.Bool("dry_run", policy.DryRun),
		slog.Duration("interval", policy.Interval))

	// Run immediately on start
	if _, err := RunRetention(ctx, dbc, policy, time.Now()); err != nil {
		slog.Warn("retention cleanup failed", slog.Any("err", err))
	}
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("retention job stopped", slog.String("component", "retention_cleanup"))
			return
		case <-ticker.C:
			if _, err := RunRetention(ctx, dbc, policy, time.Now()); err != nil {
				slog.Warn("retention cleanup failed", slog.Any("err", err))
			}
		}
	}
}

type retentionCandidate struct {
	id       string
	date     time.Time
	messages int
	tracks   int
}

// RunRetention performs a single cleanup cycle relative to now. VODs whose
// caption job is processing are never touched. Purged VODs keep their queue
// row with chat reset to pending, so re-enqueueing fetches the replay again.
func RunRetention(ctx context.Context, dbc *sql.DB, policy RetentionPolicy, now time.Time) (RetentionResult, error) {
	var res RetentionResult
	if policy.KeepDays <= 0 {
		return res, nil
	}
	logger := slog.Default().With(slog.String("component", "retention_cleanup"), slog.Bool("dry_run", policy.DryRun))
	cutoff := now.Add(-time.Duration(policy.KeepDays) * 24 * time.Hour)

	rows, err := dbc.QueryContext(ctx, `
		SELECT v.twitch_vod_id, COALESCE(v.date, v.created_at),
			(SELECT COUNT(1) FROM chat_messages m WHERE m.vod_id = v.twitch_vod_id),
			(SELECT COUNT(1) FROM caption_tracks t WHERE t.vod_id = v.twitch_vod_id)
		FROM vods v
		WHERE COALESCE(v.date, v.created_at) < $1 AND v.caption_state <> 'processing'
		ORDER BY COALESCE(v.date, v.created_at) ASC`, cutoff)
	if err != nil {
		return res, fmt.Errorf("query expired vods: %w", err)
	}
	var candidates []retentionCandidate
	for rows.Next() {
		var c retentionCandidate
		if err := rows.Scan(&c.id, &c.date, &c.messages, &c.tracks); err != nil {
			logger.Warn("failed to scan vod row", slog.Any("err", err))
			continue
		}
		if c.messages == 0 && c.tracks == 0 {
			continue
		}
		candidates = append(candidates, c)
	}
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", slog.Any("err", err))
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("iterate expired vods: %w", err)
	}

	for _, c := range candidates {
		if policy.DryRun {
			logger.Info("dry-run: would purge vod chat",
				slog.String("vod_id", c.id), slog.Time("date", c.date),
				slog.Int("messages", c.messages), slog.Int("tracks", c.tracks))
		} else if err := purgeVOD(ctx, dbc, c.id); err != nil {
			logger.Warn("failed to purge vod", slog.String("vod_id", c.id), slog.Any("err", err))
			res.Errors++
			continue
		} else {
			logger.Info("purged vod chat", slog.String("vod_id", c.id), slog.Int("messages", c.messages), slog.Int("tracks", c.tracks))
		}
		res.VODs++
		res.Messages += c.messages
		res.Tracks += c.tracks
	}

	mode := "cleanup"
	if policy.DryRun {
		mode = "dry-run"
	}
	logger.Info("retention cleanup completed",
		slog.String("mode", mode),
		slog.Int("vods", res.VODs),
		slog.Int("messages", res.Messages),
		slog.Int("tracks", res.Tracks),
		slog.Int("errors", res.Errors))
	return res, nil
}

func purgeVOD(ctx context.Context, dbc *sql.DB, id string) error {
	tx, err := dbc.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmts := []string{
		`DELETE FROM chat_messages WHERE vod_id=$1`,
		`DELETE FROM caption_tracks WHERE vod_id=$1`,
		`UPDATE vods SET chat_state='pending', updated_at=NOW() WHERE twitch_vod_id=$1`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}
