package vod

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/chatcaptions/twitchapi"
)

// caption_state values
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateDone       = "done"
	StateFailed     = "failed"
)

// chat_state values
const (
	ChatPending  = "pending"
	ChatImported = "imported"
)

// ErrNoPending is returned by NextPending when the queue is empty.
var ErrNoPending = errors.New("no vods pending")

// ErrVODNotFound is returned when a VOD is not in the queue.
var ErrVODNotFound = errors.New("vod not found")

// VOD is a queued VOD with its caption job state.
type VOD struct {
	ID              string    `json:"id"`
	Title           string    `json:"title,omitempty"`
	Date            time.Time `json:"date"`
	DurationSeconds int       `json:"duration_seconds"`
	YouTubeVideoID  string    `json:"youtube_video_id,omitempty"`
	ChatState       string    `json:"chat_state"`
	CaptionState    string    `json:"caption_state"`
	CaptionError    string    `json:"caption_error,omitempty"`
	Attempts        int       `json:"attempts"`
	Priority        int       `json:"priority"`
}

// MetaSource looks up VOD metadata; twitchapi.HelixClient satisfies it.
type MetaSource interface {
	GetVideo(ctx context.Context, id string) (twitchapi.VideoMeta, error)
}

// EnqueueOptions tunes how a VOD enters the queue.
type EnqueueOptions struct {
	YouTubeVideoID string
	Priority       int
	// Reimport drops the imported flag so chat is fetched again.
	Reimport bool
}

// Enqueue adds or re-queues a VOD. input may be an id or a VOD URL; the
// normalized id is returned. Metadata from meta is best-effort and meta may be nil.
// A VOD that is currently processing keeps its state.
func Enqueue(ctx context.Context, dbc *sql.DB, meta MetaSource, input string, opts EnqueueOptions) (string, error) {
	id, err := twitchapi.ParseVODID(input)
	if err != nil {
		return "", err
	}
	var (
		title    string
		date     any
		duration int
	)
	if meta != nil {
		m, err := meta.GetVideo(ctx, id)
		if err != nil {
			slog.Warn("vod metadata lookup failed", slog.String("component", "vod_queue"), slog.String("vod_id", id), slog.Any("err", err))
		} else {
			title, duration = m.Title, m.Duration
			if !m.CreatedAt.IsZero() {
				date = m.CreatedAt.UTC()
			}
		}
	}
	chatReset := ""
	if opts.Reimport {
		chatReset = ChatPending
	}
	_, err = dbc.ExecContext(ctx, `INSERT INTO vods (twitch_vod_id, title, date, duration_seconds, youtube_video_id, priority, caption_state, attempts, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), $3, $4, NULLIF($5,''), $6, 'pending', 0, NOW(), NOW())
		ON CONFLICT (twitch_vod_id) DO UPDATE SET
			title=COALESCE(EXCLUDED.title, vods.title),
			date=COALESCE(EXCLUDED.date, vods.date),
			duration_seconds=CASE WHEN EXCLUDED.duration_seconds > 0 THEN EXCLUDED.duration_seconds ELSE vods.duration_seconds END,
			youtube_video_id=COALESCE(EXCLUDED.youtube_video_id, vods.youtube_video_id),
			priority=EXCLUDED.priority,
			chat_state=COALESCE(NULLIF($7,''), vods.chat_state),
			caption_state=CASE WHEN vods.caption_state='processing' THEN vods.caption_state ELSE 'pending' END,
			caption_error=CASE WHEN vods.caption_state='processing' THEN vods.caption_error ELSE NULL END,
			attempts=CASE WHEN vods.caption_state='processing' THEN vods.attempts ELSE 0 END,
			updated_at=NOW()`,
		id, title, date, duration, opts.YouTubeVideoID, opts.Priority, chatReset)
	if err != nil {
		return "", fmt.Errorf("enqueue vod %s: %w", id, err)
	}
	return id, nil
}

const vodColumns = `twitch_vod_id, COALESCE(title,''), date, COALESCE(duration_seconds,0), COALESCE(youtube_video_id,''),
	chat_state, caption_state, COALESCE(caption_error,''), attempts, priority`

type rowScanner interface{ Scan(dest ...any) error }

func scanVOD(row rowScanner) (VOD, error) {
	var (
		v    VOD
		date sql.NullTime
	)
	if err := row.Scan(&v.ID, &v.Title, &date, &v.DurationSeconds, &v.YouTubeVideoID,
		&v.ChatState, &v.CaptionState, &v.CaptionError, &v.Attempts, &v.Priority); err != nil {
		return VOD{}, err
	}
	v.Date = date.Time
	return v, nil
}

// NextPending claims the highest priority pending VOD (oldest first within a
// priority) with fewer than maxAttempts attempts and marks it processing.
func NextPending(ctx context.Context, dbc *sql.DB, maxAttempts int) (VOD, error) {
	row := dbc.QueryRowContext(ctx, `UPDATE vods SET caption_state='processing', attempts=attempts+1, updated_at=NOW()
		WHERE twitch_vod_id = (
			SELECT twitch_vod_id FROM vods
			WHERE caption_state='pending' AND attempts < $1
			ORDER BY priority DESC, date ASC NULLS LAST, created_at ASC
			LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		RETURNING `+vodColumns, maxAttempts)
	v, err := scanVOD(row)
	if errors.Is(err, sql.ErrNoRows) {
		return VOD{}, ErrNoPending
	}
	if err != nil {
		return VOD{}, fmt.Errorf("claim next vod: %w", err)
	}
	return v, nil
}

// GetVOD returns the queue entry of id.
func GetVOD(ctx context.Context, dbc *sql.DB, id string) (VOD, error) {
	v, err := scanVOD(dbc.QueryRowContext(ctx, `SELECT `+vodColumns+` FROM vods WHERE twitch_vod_id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return VOD{}, ErrVODNotFound
	}
	return v, err
}

// ListVODs returns up to limit VODs, newest first.
func ListVODs(ctx context.Context, dbc *sql.DB, limit int) ([]VOD, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := dbc.QueryContext(ctx, `SELECT `+vodColumns+` FROM vods ORDER BY date DESC NULLS LAST, created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list vods: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make([]VOD, 0)
	for rows.Next() {
		v, err := scanVOD(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vod: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// QueueDepth counts VODs waiting for a caption job.
func QueueDepth(ctx context.Context, dbc *sql.DB) (int, error) {
	var n int
	err := dbc.QueryRowContext(ctx, `SELECT COUNT(1) FROM vods WHERE caption_state='pending'`).Scan(&n)
	return n, err
}

func markChatImported(ctx context.Context, dbc *sql.DB, id string) error {
	_, err := dbc.ExecContext(ctx, `UPDATE vods SET chat_state='imported', updated_at=NOW() WHERE twitch_vod_id=$1`, id)
	return err
}

func markDone(ctx context.Context, dbc *sql.DB, id string) error {
	_, err := dbc.ExecContext(ctx, `UPDATE vods SET caption_state='done', caption_error=NULL, updated_at=NOW() WHERE twitch_vod_id=$1`, id)
	return err
}

// markFailed records err. Retryable failures go back to pending until the
// attempt budget is spent.
func markFailed(ctx context.Context, dbc *sql.DB, id string, cause error, retry bool) error {
	state := StateFailed
	if retry {
		state = StatePending
	}
	_, err := dbc.ExecContext(ctx, `UPDATE vods SET caption_state=$1, caption_error=$2, updated_at=NOW() WHERE twitch_vod_id=$3`, state, cause.Error(), id)
	return err
}

// requeue returns an interrupted job to pending without charging an attempt.
func requeue(ctx context.Context, dbc *sql.DB, id string) error {
	_, err := dbc.ExecContext(ctx, `UPDATE vods SET caption_state='pending', attempts=GREATEST(attempts-1,0), updated_at=NOW() WHERE twitch_vod_id=$1`, id)
	return err
}

// resetStale returns jobs left processing by a previous run to pending.
func resetStale(ctx context.Context, dbc *sql.DB) (int64, error) {
	res, err := dbc.ExecContext(ctx, `UPDATE vods SET caption_state='pending', updated_at=NOW() WHERE caption_state='processing'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetPriority changes the queue priority of a VOD; higher runs first.
func SetPriority(ctx context.Context, dbc *sql.DB, id string, priority int) error {
	res, err := dbc.ExecContext(ctx, `UPDATE vods SET priority=$2, updated_at=NOW() WHERE twitch_vod_id=$1`, id, priority)
	if err != nil {
		return fmt.Errorf("set priority of %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVODNotFound
	}
	return nil
}
