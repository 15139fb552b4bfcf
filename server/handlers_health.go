package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/chatcaptions/db"
	"github.com/onnwee/chatcaptions/vod"
	"github.com/onnwee/chatcaptions/youtubeapi"
)

// HandleHealthz responds to liveness checks by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness checks with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"database", h.db.PingContext},
		{"schema", func(ctx context.Context) error {
			var n int
			return h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM caption_tracks`).Scan(&n)
		}},
		{"youtube_credentials", func(ctx context.Context) error {
			if h.youtube == nil {
				return nil
			}
			access, _, _, _, err := db.GetOAuthToken(ctx, h.db, youtubeapi.Provider)
			if err != nil {
				return err
			}
			if access == "" {
				return fmt.Errorf("youtube configured but not authorized, visit /auth/youtube/start")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus returns a lightweight status summary: queue depth, per-state counts
// and the caption job heartbeat.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	resp := map[string]any{}

	depth, err := vod.QueueDepth(ctx, h.db)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp["queue_depth"] = depth

	states := map[string]int{}
	rows, err := h.db.QueryContext(ctx, `SELECT caption_state, COUNT(*) FROM vods GROUP BY caption_state`)
	if err == nil {
		defer func() {
			if err := rows.Close(); err != nil {
				slog.Warn("failed to close rows", slog.Any("err", err))
			}
		}()
		for rows.Next() {
			var state string
			var n int
			if err := rows.Scan(&state, &n); err == nil {
				states[state] = n
			}
		}
	}
	resp["caption_states"] = states

	if v, _ := db.GetKV(ctx, h.db, "job_caption_last"); v != "" {
		resp["job_caption_last"] = v
	}
	if v, _ := db.GetKV(ctx, h.db, "avg_caption_job_ms"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			resp["avg_caption_job_ms"] = f
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleConfig returns the non-secret effective configuration.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	opts := h.captionDefaults()
	writeJSON(w, http.StatusOK, map[string]any{
		"caption": map[string]any{
			"duration_seconds": opts.Duration.Seconds(),
			"emote_text":       opts.EmoteText,
			"color":            opts.Color,
			"position":         opts.Position,
			"language":         h.cfg.CaptionLanguage,
			"track_name":       h.cfg.CaptionTrackName,
		},
		"helix_enabled":       h.meta != nil,
		"youtube_enabled":     h.youtube != nil,
		"job_interval":        h.cfg.JobInterval.String(),
		"max_concurrent_jobs": h.cfg.MaxConcurrentJobs,
		"retention_keep_days": h.cfg.RetentionKeepDays,
	})
}
