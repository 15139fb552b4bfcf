package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatcaptions/caption"
)

// Recorder captures live chat of a channel into the store, timing each
// message relative to VODStart.
type Recorder struct {
	Store      *Store
	Channel    string
	Username   string
	OAuthToken string
	VODID      string
	VODStart   time.Time
	// FlushInterval bounds how long received messages wait before being written.
	FlushInterval time.Duration
	// BatchSize flushes early once this many messages are pending.
	BatchSize int
}

// Run connects to IRC and records until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	if r.Channel == "" || r.Username == "" || r.OAuthToken == "" {
		return errors.New("recorder needs channel, bot username and oauth token")
	}
	logger := slog.Default().With(slog.String("component", "chat_recorder"), slog.String("vod_id", r.VODID), slog.String("channel", r.Channel))

	flushEvery := r.FlushInterval
	if flushEvery <= 0 {
		flushEvery = time.Second
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = 100
	}

	events := make(chan caption.RawEvent, 4*batch)
	client := twitch.NewClient(r.Username, r.OAuthToken)
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		ev := EventFromMessage(msg, r.VODStart, time.Now())
		select {
		case events <- ev:
		default:
			logger.Warn("chat buffer full; dropping message", slog.String("comment_id", ev.ID))
		}
	})
	client.OnConnect(func() { logger.Info("connected to twitch chat") })

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.drain(ctx, events, flushEvery, batch, logger)
	}()
	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
	}()

	client.Join(r.Channel)
	err := client.Connect()
	<-done
	if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		return fmt.Errorf("twitch chat connect: %w", err)
	}
	return nil
}

func (r *Recorder) drain(ctx context.Context, events <-chan caption.RawEvent, every time.Duration, batch int, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	pending := make([]caption.RawEvent, 0, batch)
	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		if _, err := r.Store.SaveEvents(ctx, r.VODID, r.VODStart, pending); err != nil {
			logger.Error("failed to insert chat messages", slog.Int("count", len(pending)), slog.Any("err", err))
		}
		pending = pending[:0]
	}
	for {
		select {
		case <-ctx.Done():
			// final write outlives the cancelled context
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		rest:
			for {
				select {
				case ev := <-events:
					pending = append(pending, ev)
				default:
					break rest
				}
			}
			flush(fctx)
			cancel()
			return
		case ev := <-events:
			pending = append(pending, ev)
			if len(pending) >= batch {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// EventFromMessage converts an IRC message received at now into a chat event.
func EventFromMessage(msg twitch.PrivateMessage, vodStart, now time.Time) caption.RawEvent {
	if !msg.Time.IsZero() {
		now = msg.Time
	}
	author := msg.User.DisplayName
	if author == "" {
		author = msg.User.Name
	}
	var offset time.Duration
	if !vodStart.IsZero() {
		offset = now.Sub(vodStart).Round(time.Millisecond)
	}
	return caption.RawEvent{
		ID:        msg.ID,
		Offset:    offset,
		Author:    author,
		Color:     msg.User.Color,
		Body:      msg.Message,
		Fragments: Fragments(msg.Message, msg.Emotes),
	}
}

// Fragments splits text into plain and emote fragments using IRC emote
// positions (inclusive rune indices). Out-of-range positions are ignored.
func Fragments(text string, emotes []*twitch.Emote) []caption.Fragment {
	runes := []rune(text)
	type span struct{ start, end int }
	var spans []span
	for _, e := range emotes {
		if e == nil {
			continue
		}
		for _, p := range e.Positions {
			if p.Start < 0 || p.End < p.Start || p.End >= len(runes) {
				continue
			}
			spans = append(spans, span{p.Start, p.End + 1})
		}
	}
	if len(spans) == 0 {
		if text == "" {
			return nil
		}
		return []caption.Fragment{{Text: text}}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var out []caption.Fragment
	pos := 0
	for _, s := range spans {
		if s.start < pos {
			continue // overlapping position tags
		}
		if s.start > pos {
			out = append(out, caption.Fragment{Text: string(runes[pos:s.start])})
		}
		out = append(out, caption.Fragment{Text: string(runes[s.start:s.end]), Emote: true})
		pos = s.end
	}
	if pos < len(runes) {
		out = append(out, caption.Fragment{Text: string(runes[pos:])})
	}
	return out
}
