// Package vod turns stored or fetched VOD chat into caption tracks: it runs the
// import → build → merge → render pipeline, schedules it for queued VODs and
// enforces the retention policy.
package vod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/chatcaptions/caption"
	"github.com/onnwee/chatcaptions/srt"
	"github.com/onnwee/chatcaptions/telemetry"
)

const tracerName = "chatcaptions/vod"

// CommentSource fetches the full chat replay of a VOD.
type CommentSource interface {
	FetchAll(ctx context.Context, vodID string) ([]caption.RawEvent, error)
}

// EventStore persists chat events; chat.Store satisfies it.
type EventStore interface {
	ReplaceEvents(ctx context.Context, vodID string, vodStart time.Time, events []caption.RawEvent) (int, error)
	LoadEvents(ctx context.Context, vodID string) ([]caption.RawEvent, error)
}

// TrackStore persists rendered tracks; SQLTrackStore satisfies it.
type TrackStore interface {
	SaveTrack(ctx context.Context, t Track) error
	SetYouTubeCaptionID(ctx context.Context, vodID, captionID string) error
}

// CaptionUploader attaches a caption file to a YouTube video; youtubeapi.Service satisfies it.
type CaptionUploader interface {
	UploadCaption(ctx context.Context, videoID, language, name string, body io.Reader) (string, error)
}

// Pipeline renders the chat of one VOD into an SRT track.
type Pipeline struct {
	Source   CommentSource
	Store    EventStore
	Tracks   TrackStore
	Uploader CaptionUploader // nil disables uploads

	Language  string
	TrackName string
}

// Result summarizes a pipeline run. On error it holds the steps that completed.
type Result struct {
	Imported   bool
	Events     int
	Candidates int
	Track      Track
	CaptionID  string
}

// Run imports the chat of vodID, renders it with opts and stores the track.
func (p *Pipeline) Run(ctx context.Context, vodID string, opts caption.Options) (Result, error) {
	return p.RunVOD(ctx, VOD{ID: vodID}, opts)
}

// RunVOD is Run for a queued VOD: chat already imported is not fetched again
// and the track is uploaded when the VOD has a YouTube video id.
func (p *Pipeline) RunVOD(ctx context.Context, v VOD, opts caption.Options) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "caption-pipeline", telemetry.VODAttr(v.ID))
	defer span.End()
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.SetSpanSuccess(span)
		}
	}()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "caption_pipeline"), slog.String("vod_id", v.ID))

	if v.ID == "" {
		return res, errors.New("invalid vod id: empty")
	}
	if opts.Duration <= 0 {
		return res, caption.ErrInvalidDuration
	}

	if v.ChatState != ChatImported && p.Source != nil {
		var (
			events []caption.RawEvent
			ferr   error
		)
		telemetry.TimeFunc(telemetry.ImportDuration, func() {
			events, ferr = p.Source.FetchAll(ctx, v.ID)
		})
		if ferr != nil {
			return res, fmt.Errorf("fetch chat: %w", ferr)
		}
		telemetry.AddCount(telemetry.CommentsFetched, len(events))
		if _, err := p.Store.ReplaceEvents(ctx, v.ID, v.Date, events); err != nil {
			return res, fmt.Errorf("store chat: %w", err)
		}
		res.Imported = true
		logger.Info("chat imported", slog.Int("comments", len(events)))
	}

	events, err := p.Store.LoadEvents(ctx, v.ID)
	if err != nil {
		return res, fmt.Errorf("load chat: %w", err)
	}
	res.Events = len(events)

	intervals, candidates, err := Render(events, opts)
	if err != nil {
		return res, err
	}
	res.Candidates = candidates

	res.Track = Track{VODID: v.ID, Format: "srt", Options: opts, Body: srt.Format(intervals), Entries: len(intervals)}
	if err := p.Tracks.SaveTrack(ctx, res.Track); err != nil {
		return res, err
	}
	logger.Info("caption track stored", slog.Int("events", res.Events), slog.Int("entries", res.Track.Entries))

	if p.Uploader == nil || v.YouTubeVideoID == "" || res.Track.Entries == 0 {
		return res, nil
	}
	var uerr error
	telemetry.TimeFunc(telemetry.UploadDuration, func() {
		res.CaptionID, uerr = p.Uploader.UploadCaption(ctx, v.YouTubeVideoID, p.Language, p.TrackName, strings.NewReader(res.Track.Body))
	})
	if uerr != nil {
		telemetry.Inc(telemetry.UploadsFailed)
		return res, fmt.Errorf("upload caption: %w", uerr)
	}
	telemetry.Inc(telemetry.UploadsSucceeded)
	if err := p.Tracks.SetYouTubeCaptionID(ctx, v.ID, res.CaptionID); err != nil {
		return res, err
	}
	res.Track.YouTubeCaptionID = res.CaptionID
	logger.Info("caption track uploaded", slog.String("youtube_video_id", v.YouTubeVideoID), slog.String("caption_id", res.CaptionID))
	return res, nil
}

// Render builds and merges events into a validated caption track and reports
// how many candidate windows it started from.
func Render(events []caption.RawEvent, opts caption.Options) ([]caption.Interval, int, error) {
	candidates, err := caption.Build(events, opts)
	if err != nil {
		return nil, 0, err
	}
	telemetry.AddCount(telemetry.CandidatesBuilt, len(candidates))
	var intervals []caption.Interval
	telemetry.TimeFunc(telemetry.MergeDuration, func() {
		intervals, err = caption.Merge(candidates)
	})
	if err != nil {
		return nil, len(candidates), err
	}
	if err := caption.Validate(intervals); err != nil {
		return nil, len(candidates), fmt.Errorf("merged track invalid: %w", err)
	}
	telemetry.AddCount(telemetry.IntervalsEmitted, len(intervals))
	return intervals, len(candidates), nil
}
