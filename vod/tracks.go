package vod

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/chatcaptions/caption"
)

// ErrTrackNotFound is returned when no caption track is stored for a VOD.
var ErrTrackNotFound = errors.New("caption track not found")

// Track is a rendered caption file for one VOD.
type Track struct {
	VODID            string          `json:"vod_id"`
	Format           string          `json:"format"`
	Options          caption.Options `json:"-"`
	Body             string          `json:"-"`
	Entries          int             `json:"entries"`
	YouTubeCaptionID string          `json:"youtube_caption_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// trackOptions is the stored JSON form of caption.Options.
type trackOptions struct {
	DurationSeconds float64 `json:"duration_seconds"`
	EmoteText       bool    `json:"emote_text"`
	Color           bool    `json:"color"`
	Position        bool    `json:"position"`
}

func encodeOptions(o caption.Options) ([]byte, error) {
	return json.Marshal(trackOptions{DurationSeconds: o.Duration.Seconds(), EmoteText: o.EmoteText, Color: o.Color, Position: o.Position})
}

func decodeOptions(b []byte) (caption.Options, error) {
	var to trackOptions
	if len(b) == 0 {
		return caption.Options{}, nil
	}
	if err := json.Unmarshal(b, &to); err != nil {
		return caption.Options{}, err
	}
	return caption.Options{
		Duration:  time.Duration(to.DurationSeconds * float64(time.Second)),
		EmoteText: to.EmoteText,
		Color:     to.Color,
		Position:  to.Position,
	}, nil
}

// SQLTrackStore persists tracks in caption_tracks.
type SQLTrackStore struct {
	DB *sql.DB
}

// SaveTrack inserts or replaces the track of t.VODID. A previously recorded
// YouTube caption id is kept.
func (s *SQLTrackStore) SaveTrack(ctx context.Context, t Track) error {
	opts, err := encodeOptions(t.Options)
	if err != nil {
		return fmt.Errorf("encode track options: %w", err)
	}
	format := t.Format
	if format == "" {
		format = "srt"
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO caption_tracks (vod_id, format, options, body, entries, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
		ON CONFLICT (vod_id) DO UPDATE SET
			format=EXCLUDED.format,
			options=EXCLUDED.options,
			body=EXCLUDED.body,
			entries=EXCLUDED.entries,
			updated_at=NOW()`, t.VODID, format, opts, t.Body, t.Entries)
	if err != nil {
		return fmt.Errorf("save track %s: %w", t.VODID, err)
	}
	return nil
}

// GetTrack loads the stored track of vodID.
func (s *SQLTrackStore) GetTrack(ctx context.Context, vodID string) (Track, error) {
	var (
		t       Track
		opts    []byte
		capID   sql.NullString
		updated sql.NullTime
		created sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, `SELECT vod_id, format, options, body, entries, youtube_caption_id, created_at, updated_at
		FROM caption_tracks WHERE vod_id=$1`, vodID).Scan(&t.VODID, &t.Format, &opts, &t.Body, &t.Entries, &capID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, ErrTrackNotFound
	}
	if err != nil {
		return Track{}, fmt.Errorf("get track %s: %w", vodID, err)
	}
	if t.Options, err = decodeOptions(opts); err != nil {
		return Track{}, fmt.Errorf("decode track options: %w", err)
	}
	t.YouTubeCaptionID = capID.String
	t.CreatedAt, t.UpdatedAt = created.Time, updated.Time
	return t, nil
}

// SetYouTubeCaptionID records the id YouTube assigned to the uploaded track.
func (s *SQLTrackStore) SetYouTubeCaptionID(ctx context.Context, vodID, captionID string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE caption_tracks SET youtube_caption_id=$1, updated_at=NOW() WHERE vod_id=$2`, captionID, vodID)
	if err != nil {
		return fmt.Errorf("set youtube caption id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTrackNotFound
	}
	return nil
}
