package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chatcaptions/chat"
	"github.com/onnwee/chatcaptions/telemetry"
)

func secondsParam(r *http.Request, key string) time.Duration {
	return time.Duration(parseFloat64Query(r, key, 0) * float64(time.Second))
}

// handleChatJSON returns chat messages for a VOD within an optional time range.
func (h *Handlers) handleChatJSON(w http.ResponseWriter, r *http.Request, vodID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Params: from, to (seconds), limit (default 1000)
	limit := parseIntQuery(r, "limit", 1000)
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	msgs, err := h.chat.Messages(r.Context(), vodID, secondsParam(r, "from"), secondsParam(r, "to"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

var errClientGone = errors.New("client disconnected")

// handleChatSSE replays messages using Server-Sent Events at a given playback speed.
func (h *Handlers) handleChatSSE(w http.ResponseWriter, r *http.Request, vodID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	from := secondsParam(r, "from")
	speed := parseFloat64Query(r, "speed", 1.0)
	if speed <= 0 {
		speed = 1.0
	}
	ctx := r.Context()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat_sse"), slog.String("vod_id", vodID))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	prev := from.Seconds()
	enc := json.NewEncoder(w)
	err := h.chat.Each(ctx, vodID, from, func(m chat.Message) error {
		if m.RelTimestamp > prev {
			delay := time.Duration((m.RelTimestamp - prev) / speed * float64(time.Second))
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return errClientGone
			case <-t.C:
			}
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return errClientGone
		}
		// Encode appends the newline that ends the data line
		if err := enc.Encode(m); err != nil {
			return errClientGone
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return errClientGone
		}
		flusher.Flush()
		prev = m.RelTimestamp
		return nil
	})
	switch {
	case err == nil:
		if _, werr := w.Write([]byte("event: end\ndata: {}\n\n")); werr == nil {
			flusher.Flush()
		}
	case errors.Is(err, errClientGone):
		logger.Debug("chat replay client gone")
	default:
		logger.Warn("chat replay failed", slog.Any("err", err))
	}
}
