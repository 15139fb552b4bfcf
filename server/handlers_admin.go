package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chatcaptions/telemetry"
	"github.com/onnwee/chatcaptions/vod"
)

// HandleAdminEnqueue queues a VOD for captioning. The body names the VOD by id or URL.
func (h *Handlers) HandleAdminEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		VOD            string `json:"vod"`
		YouTubeVideoID string `json:"youtube_video_id"`
		Priority       int    `json:"priority"`
		Reimport       bool   `json:"reimport"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.VOD == "" {
		http.Error(w, "vod required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	id, err := vod.Enqueue(ctx, h.db, h.meta, req.VOD, vod.EnqueueOptions{
		YouTubeVideoID: req.YouTubeVideoID,
		Priority:       req.Priority,
		Reimport:       req.Reimport,
	})
	if err != nil {
		if vod.IsFatalError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(ctx).Info("vod enqueued", slog.String("vod_id", id), slog.Int("priority", req.Priority))
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "vod_id": id})
}

// HandleAdminVodPriority handles VOD priority updates.
func (h *Handlers) HandleAdminVodPriority(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		VodID    string `json:"vod_id"`
		Priority int    `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.VodID == "" {
		http.Error(w, "vod_id required", http.StatusBadRequest)
		return
	}
	err := vod.SetPriority(r.Context(), h.db, req.VodID, req.Priority)
	if errors.Is(err, vod.ErrVODNotFound) {
		http.Error(w, "vod not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "vod_id": req.VodID, "priority": req.Priority})
}

// HandleAdminRetention runs one retention pass now. keep_days overrides the
// configured window; dry_run defaults to true so a bare POST never deletes.
func (h *Handlers) HandleAdminRetention(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	policy := vod.RetentionPolicy{
		KeepDays: parseIntQuery(r, "keep_days", h.cfg.RetentionKeepDays),
		DryRun:   parseBoolQuery(r, "dry_run", true),
	}
	if policy.KeepDays <= 0 {
		http.Error(w, "retention disabled: keep_days must be positive", http.StatusBadRequest)
		return
	}
	res, err := vod.RunRetention(r.Context(), h.db, policy, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dry_run": policy.DryRun, "keep_days": policy.KeepDays, "result": res})
}
