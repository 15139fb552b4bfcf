package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/onnwee/chatcaptions/caption"
)

// Message is a stored chat row as served by the JSON API.
type Message struct {
	ID           int64              `json:"-"`
	CommentID    string             `json:"id"`
	Username     string             `json:"username"`
	Color        string             `json:"color,omitempty"`
	Text         string             `json:"message"`
	Fragments    []caption.Fragment `json:"fragments,omitempty"`
	RelTimestamp float64            `json:"rel_timestamp"`
	AbsTimestamp time.Time          `json:"abs_timestamp"`
}

// Store persists chat events in chat_messages.
type Store struct {
	DB *sql.DB
}

// NewStore returns a Store backed by db.
func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

const insertMessage = `INSERT INTO chat_messages (vod_id, comment_id, username, color, message, fragments, rel_timestamp, abs_timestamp)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (vod_id, comment_id) DO NOTHING`

// SaveEvents appends events for vodID, ignoring comment ids already stored.
// vodStart anchors abs_timestamp; it may be zero. Returns the number of new rows.
func (s *Store) SaveEvents(ctx context.Context, vodID string, vodStart time.Time, events []caption.RawEvent) (int, error) {
	return s.write(ctx, vodID, vodStart, events, false)
}

// ReplaceEvents swaps every stored message of vodID for events in one transaction.
func (s *Store) ReplaceEvents(ctx context.Context, vodID string, vodStart time.Time, events []caption.RawEvent) (int, error) {
	return s.write(ctx, vodID, vodStart, events, true)
}

func (s *Store) write(ctx context.Context, vodID string, vodStart time.Time, events []caption.RawEvent, replace bool) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin chat tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE vod_id=$1`, vodID); err != nil {
			return 0, fmt.Errorf("clear chat: %w", err)
		}
	}
	stmt, err := tx.PrepareContext(ctx, insertMessage)
	if err != nil {
		return 0, fmt.Errorf("prepare insert chat: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			slog.Warn("failed to close prepared statement", slog.Any("err", err))
		}
	}()

	inserted := 0
	for i, ev := range events {
		id := ev.ID
		if id == "" {
			id = fmt.Sprintf("anon-%d-%d", ev.Offset.Milliseconds(), i)
		}
		var frags []byte
		if len(ev.Fragments) > 0 {
			if frags, err = json.Marshal(ev.Fragments); err != nil {
				return inserted, fmt.Errorf("encode fragments: %w", err)
			}
		}
		var abs any
		if !vodStart.IsZero() {
			abs = vodStart.Add(ev.Offset).UTC()
		}
		res, err := stmt.ExecContext(ctx, vodID, id, ev.Author, ev.Color, ev.Body, frags, ev.Offset.Seconds(), abs)
		if err != nil {
			return inserted, fmt.Errorf("insert chat %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit chat: %w", err)
	}
	return inserted, nil
}

// LoadEvents returns the stored events of vodID in arrival order.
func (s *Store) LoadEvents(ctx context.Context, vodID string) ([]caption.RawEvent, error) {
	msgs, err := s.query(ctx, `SELECT id, comment_id, COALESCE(username,''), COALESCE(color,''), COALESCE(message,''), fragments, rel_timestamp, abs_timestamp
		FROM chat_messages WHERE vod_id=$1 ORDER BY id ASC`, vodID)
	if err != nil {
		return nil, err
	}
	out := make([]caption.RawEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, caption.RawEvent{
			ID:        m.CommentID,
			Offset:    time.Duration(math.Round(m.RelTimestamp*1000)) * time.Millisecond,
			Author:    m.Username,
			Color:     m.Color,
			Body:      m.Text,
			Fragments: m.Fragments,
		})
	}
	return out, nil
}

const messageCols = `SELECT id, comment_id, COALESCE(username,''), COALESCE(color,''), COALESCE(message,''), fragments, rel_timestamp, abs_timestamp FROM chat_messages`

// Messages returns up to limit messages with from <= offset, and offset <= to when to > 0.
func (s *Store) Messages(ctx context.Context, vodID string, from, to time.Duration, limit int) ([]Message, error) {
	if to > 0 {
		return s.query(ctx, messageCols+` WHERE vod_id=$1 AND rel_timestamp>=$2 AND rel_timestamp<=$3 ORDER BY rel_timestamp ASC, id ASC LIMIT $4`,
			vodID, from.Seconds(), to.Seconds(), limit)
	}
	return s.query(ctx, messageCols+` WHERE vod_id=$1 AND rel_timestamp>=$2 ORDER BY rel_timestamp ASC, id ASC LIMIT $3`,
		vodID, from.Seconds(), limit)
}

// Count returns how many messages are stored for vodID.
func (s *Store) Count(ctx context.Context, vodID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE vod_id=$1`, vodID).Scan(&n)
	return n, err
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Message, error) {
	out := make([]Message, 0)
	err := s.each(ctx, func(m Message) error {
		out = append(out, m)
		return nil
	}, q, args...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Each calls fn for every message of vodID with offset >= from, in replay order.
// Iteration stops at the first error fn returns, which Each returns unchanged.
func (s *Store) Each(ctx context.Context, vodID string, from time.Duration, fn func(Message) error) error {
	return s.each(ctx, fn, messageCols+` WHERE vod_id=$1 AND rel_timestamp>=$2 ORDER BY rel_timestamp ASC, id ASC`, vodID, from.Seconds())
}

func (s *Store) each(ctx context.Context, fn func(Message) error, q string, args ...any) error {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query chat: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	for rows.Next() {
		var (
			m     Message
			frags []byte
			abs   sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.CommentID, &m.Username, &m.Color, &m.Text, &frags, &m.RelTimestamp, &abs); err != nil {
			return fmt.Errorf("scan chat: %w", err)
		}
		if len(frags) > 0 {
			if err := json.Unmarshal(frags, &m.Fragments); err != nil {
				return fmt.Errorf("decode fragments of %s: %w", m.CommentID, err)
			}
		}
		m.AbsTimestamp = abs.Time
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}
