package vod

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatcaptions/caption"
	"github.com/onnwee/chatcaptions/db"
	"github.com/onnwee/chatcaptions/telemetry"
)

// JobConfig controls the caption job loop.
type JobConfig struct {
	Interval      time.Duration
	MaxConcurrent int
	MaxAttempts   int
	Options       caption.Options
}

func (c *JobConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Options.Duration <= 0 {
		c.Options = caption.DefaultOptions()
	}
}

// StartCaptionJob processes queued VODs until ctx is canceled, running at
// most cfg.MaxConcurrent jobs at a time. It returns after running jobs finish.
func StartCaptionJob(ctx context.Context, dbc *sql.DB, p *Pipeline, cfg JobConfig) {
	cfg.applyDefaults()
	logger := slog.Default().With(slog.String("component", "caption_job"))
	logger.Info("caption job starting", slog.Duration("interval", cfg.Interval), slog.Int("max_concurrent", cfg.MaxConcurrent), slog.Int("max_attempts", cfg.MaxAttempts))
	if n, err := resetStale(ctx, dbc); err != nil {
		logger.Warn("reset stale jobs", slog.Any("err", err))
	} else if n > 0 {
		logger.Info("requeued jobs interrupted by a previous run", slog.Int64("count", n))
	}

	slots := newJobSlots(cfg.MaxConcurrent)
	var wg sync.WaitGroup
	defer wg.Wait()

	// Kick an immediate run so we don't wait a full interval after boot.
	dispatchPending(ctx, dbc, p, cfg, slots, &wg)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("caption job stopped", slog.Int("active", slots.active()))
			return
		case <-ticker.C:
			dispatchPending(ctx, dbc, p, cfg, slots, &wg)
		}
	}
}

// dispatchPending claims pending VODs while slots are free and processes each
// in its own goroutine. It returns how many jobs were started.
func dispatchPending(ctx context.Context, dbc *sql.DB, p *Pipeline, cfg JobConfig, slots *jobSlots, wg *sync.WaitGroup) int {
	if err := db.SetKV(ctx, dbc, "job_caption_last", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Debug("record job heartbeat", slog.Any("err", err))
	}
	started := 0
	for slots.tryAcquire() {
		v, err := NextPending(ctx, dbc, cfg.MaxAttempts)
		if err != nil {
			slots.release()
			if !errors.Is(err, ErrNoPending) {
				slog.Warn("claim pending vod", slog.String("component", "caption_job"), slog.Any("err", err))
			}
			break
		}
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer slots.release()
			_ = ProcessVOD(ctx, dbc, p, cfg, v)
		}()
	}
	if depth, err := QueueDepth(ctx, dbc); err == nil {
		telemetry.SetQueueDepth(depth)
	}
	return started
}

// ProcessVOD runs the pipeline for a claimed VOD and records the outcome.
// A job interrupted by shutdown goes back to pending; one stopped with
// CancelJob fails without retry.
func ProcessVOD(ctx context.Context, dbc *sql.DB, p *Pipeline, cfg JobConfig, v VOD) error {
	cfg.applyDefaults()
	jobCtx, cancel := context.WithCancel(telemetry.WithCorrelation(ctx, uuid.NewString()))
	registerCancel(v.ID, cancel)
	defer func() {
		unregisterCancel(v.ID)
		cancel()
	}()
	logger := telemetry.LoggerWithCorr(jobCtx).With(slog.String("component", "caption_job"), slog.String("vod_id", v.ID), slog.Int("attempt", v.Attempts))
	logger.Info("caption job started", slog.String("title", v.Title), slog.Int("priority", v.Priority))

	telemetry.Inc(telemetry.CaptionJobsStarted)
	if telemetry.ActiveJobsGauge != nil {
		telemetry.ActiveJobsGauge.Inc()
		defer telemetry.ActiveJobsGauge.Dec()
	}

	start := time.Now()
	res, err := p.RunVOD(jobCtx, v, cfg.Options)

	// state updates outlive the job context
	bctx, bcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer bcancel()
	if res.Imported {
		if merr := markChatImported(bctx, dbc, v.ID); merr != nil {
			logger.Warn("mark chat imported", slog.Any("err", merr))
		}
	}

	if err == nil {
		dur := time.Since(start)
		if merr := markDone(bctx, dbc, v.ID); merr != nil {
			logger.Error("mark job done", slog.Any("err", merr))
		}
		telemetry.Inc(telemetry.CaptionJobsSucceeded)
		if telemetry.TotalJobDuration != nil {
			telemetry.TotalJobDuration.Observe(dur.Seconds())
		}
		updateMovingAvg(bctx, dbc, "avg_caption_job_ms", float64(dur.Milliseconds()))
		logger.Info("caption job done", slog.Int("events", res.Events), slog.Int("entries", res.Track.Entries), slog.String("caption_id", res.CaptionID), slog.Duration("duration", dur))
		return nil
	}

	if ctx.Err() != nil {
		if rerr := requeue(bctx, dbc, v.ID); rerr != nil {
			logger.Warn("requeue interrupted job", slog.Any("err", rerr))
		}
		logger.Info("caption job interrupted; requeued")
		return err
	}
	if jobCtx.Err() != nil {
		err = fmt.Errorf("cancelled: %w", err)
	}
	class := ClassifyError(err)
	retry := class == ErrorClassRetryable && v.Attempts < cfg.MaxAttempts
	telemetry.JobFailed(class.String())
	if merr := markFailed(bctx, dbc, v.ID, err, retry); merr != nil {
		logger.Error("mark job failed", slog.Any("err", merr))
	}
	logger.Error("caption job failed", slog.Any("err", err), slog.String("class", class.String()), slog.Bool("will_retry", retry))
	return err
}

// updateMovingAvg maintains an exponential moving average (alpha 0.2) in kv,
// stored as integer milliseconds.
func updateMovingAvg(ctx context.Context, dbc *sql.DB, key string, newVal float64) {
	const alpha = 0.2
	existing, err := db.GetKV(ctx, dbc, key)
	if err != nil {
		return
	}
	avg := newVal
	if old, err := strconv.ParseFloat(existing, 64); err == nil {
		avg = alpha*newVal + (1-alpha)*old
	}
	_ = db.SetKV(ctx, dbc, key, fmt.Sprintf("%.0f", avg))
}
