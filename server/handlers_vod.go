package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chatcaptions/caption"
	"github.com/onnwee/chatcaptions/srt"
	"github.com/onnwee/chatcaptions/telemetry"
	"github.com/onnwee/chatcaptions/vod"
)

// HandleVodsList returns the most recent VODs with their caption state.
func (h *Handlers) HandleVodsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	list, err := vod.ListVODs(r.Context(), h.db, parseIntQuery(r, "limit", 50))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleVodsDispatcher routes requests under /vods/{id}/* to appropriate sub-handlers.
func (h *Handlers) HandleVodsDispatcher(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/vods/")
	vodID, tail, _ := strings.Cut(path, "/")
	switch {
	case vodID == "":
		http.NotFound(w, r)
	case tail == "":
		h.handleVodDetail(w, r, vodID)
	case tail == "reprocess":
		h.handleVodReprocess(w, r, vodID)
	case tail == "cancel":
		h.handleVodCancel(w, r, vodID)
	case tail == "chat":
		h.handleChatJSON(w, r, vodID)
	case tail == "chat/stream":
		h.handleChatSSE(w, r, vodID)
	case tail == "captions.srt":
		h.handleCaptionsSRT(w, r, vodID)
	case tail == "track":
		h.handleVodTrack(w, r, vodID)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleVodDetail(w http.ResponseWriter, r *http.Request, vodID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	v, err := vod.GetVOD(ctx, h.db, vodID)
	if errors.Is(err, vod.ErrVODNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := map[string]any{"vod": v}
	if n, err := h.chat.Count(ctx, vodID); err == nil {
		resp["chat_messages"] = n
	}
	if t, err := h.tracks.GetTrack(ctx, vodID); err == nil {
		resp["track"] = t
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVodReprocess puts a VOD back on the caption queue. reimport=1 also
// discards the stored chat so it is fetched again.
func (h *Handlers) handleVodReprocess(w http.ResponseWriter, r *http.Request, vodID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	v, err := vod.GetVOD(ctx, h.db, vodID)
	if errors.Is(err, vod.ErrVODNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if v.CaptionState == vod.StateProcessing {
		http.Error(w, "caption job already running", http.StatusConflict)
		return
	}
	opts := vod.EnqueueOptions{
		YouTubeVideoID: v.YouTubeVideoID,
		Priority:       v.Priority,
		Reimport:       parseBoolQuery(r, "reimport", false),
	}
	if _, err := vod.Enqueue(ctx, h.db, nil, vodID, opts); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(ctx).Info("vod requeued", slog.String("vod_id", vodID), slog.Bool("reimport", opts.Reimport))
	w.WriteHeader(http.StatusAccepted)
}

// handleVodCancel cancels a running caption job if present.
func (h *Handlers) handleVodCancel(w http.ResponseWriter, r *http.Request, vodID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if vod.CancelJob(vodID) {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// captionOptions overlays the duration, emotes, color and position query
// parameters on the configured defaults.
func (h *Handlers) captionOptions(r *http.Request) caption.Options {
	opts := h.captionDefaults()
	if r.URL.Query().Has("duration") {
		opts.Duration = durationParam(r, opts.Duration)
	}
	opts.EmoteText = parseBoolQuery(r, "emotes", opts.EmoteText)
	opts.Color = parseBoolQuery(r, "color", opts.Color)
	opts.Position = parseBoolQuery(r, "position", opts.Position)
	return opts
}

// durationParam reads ?duration in seconds. Unparsable values keep def;
// values that do not fit a time.Duration become 0 so rendering rejects them.
func durationParam(r *http.Request, def time.Duration) time.Duration {
	secs, err := strconv.ParseFloat(r.URL.Query().Get("duration"), 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0
		}
		return def
	}
	ns := secs * float64(time.Second)
	if math.IsNaN(ns) || math.Abs(ns) >= math.MaxInt64 {
		return 0
	}
	return time.Duration(ns)
}

// handleCaptionsSRT renders the stored chat of a VOD into an SRT file on demand.
func (h *Handlers) handleCaptionsSRT(w http.ResponseWriter, r *http.Request, vodID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	events, err := h.chat.LoadEvents(ctx, vodID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		http.Error(w, "no chat stored for vod", http.StatusNotFound)
		return
	}
	intervals, _, err := vod.Render(events, h.captionOptions(r))
	if errors.Is(err, caption.ErrInvalidDuration) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeSRT(w, vodID, srt.Format(intervals))
}

// handleVodTrack returns the stored caption track metadata, or the SRT body with ?download=1.
func (h *Handlers) handleVodTrack(w http.ResponseWriter, r *http.Request, vodID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	t, err := h.tracks.GetTrack(r.Context(), vodID)
	if errors.Is(err, vod.ErrTrackNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if parseBoolQuery(r, "download", false) {
		writeSRT(w, vodID, t.Body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"track": t,
		"options": map[string]any{
			"duration_seconds": t.Options.Duration.Seconds(),
			"emote_text":       t.Options.EmoteText,
			"color":            t.Options.Color,
			"position":         t.Options.Position,
		},
	})
}

func writeSRT(w http.ResponseWriter, vodID, body string) {
	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.srt"`, vodID))
	_, _ = w.Write([]byte(body))
}
