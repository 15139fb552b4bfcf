// Command chatcaptions is the service entrypoint. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs migrations.
//   - Starts background jobs: the optional live chat recorder, the caption
//     job that turns queued VODs into SRT tracks, retention, and the YouTube
//     OAuth token refresher.
//   - Serves the HTTP API with /healthz, /status, /metrics and chat/caption endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatcaptions/chat"
	"github.com/onnwee/chatcaptions/config"
	"github.com/onnwee/chatcaptions/db"
	"github.com/onnwee/chatcaptions/oauth"
	"github.com/onnwee/chatcaptions/server"
	"github.com/onnwee/chatcaptions/telemetry"
	"github.com/onnwee/chatcaptions/twitchapi"
	"github.com/onnwee/chatcaptions/vod"
	"github.com/onnwee/chatcaptions/youtubeapi"
)

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is optional; it stays a no-op without OTEL_EXPORTER_OTLP_ENDPOINT.
	shutdown, err := telemetry.InitTracing("chatcaptions", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; the embedded idempotent schema covers
	// databases created before schema_migrations existed.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema", slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chatStore := chat.NewStore(database)
	tracks := &vod.SQLTrackStore{DB: database}

	// Live recorder for a VOD being streamed right now
	if err := cfg.ValidateChatReady(); err == nil {
		if err := db.EnsureVOD(ctx, database, cfg.TwitchVODID, cfg.TwitchVODStart); err != nil {
			slog.Error("failed to register recorder vod", slog.Any("err", err))
			os.Exit(1)
		}
		rec := &chat.Recorder{
			Store:      chatStore,
			Channel:    cfg.TwitchChannel,
			Username:   cfg.TwitchBotUsername,
			OAuthToken: cfg.TwitchOAuthToken,
			VODID:      cfg.TwitchVODID,
			VODStart:   cfg.TwitchVODStart,
		}
		go func() {
			if err := rec.Run(ctx); err != nil {
				slog.Error("chat recorder stopped", slog.Any("err", err))
			}
		}()
	} else {
		slog.Info("chat recorder disabled", slog.String("reason", err.Error()))
	}

	pipeline := &vod.Pipeline{
		Source: &twitchapi.CommentClient{
			BaseURL:   twitchapi.DefaultGQLURL,
			ClientID:  twitchapi.WebClientID,
			PageDelay: cfg.CommentPageDelay,
		},
		Store:     chatStore,
		Tracks:    tracks,
		Language:  cfg.CaptionLanguage,
		TrackName: cfg.CaptionTrackName,
	}
	deps := server.Deps{DB: database, Config: cfg, Chat: chatStore, Tracks: tracks}

	if cfg.HelixEnabled() {
		deps.Meta = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
		}
	} else {
		slog.Info("helix metadata disabled (missing TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET)")
	}

	if cfg.YouTubeEnabled() {
		yt := youtubeapi.New(cfg, &db.TokenStoreAdapter{DB: database})
		pipeline.Uploader = yt
		deps.YouTube = yt
		oauth.StartRefresher(ctx, &db.TokenStoreAdapter{DB: database}, youtubeapi.Provider, 10*time.Minute, 20*time.Minute, yt.Refresh)
	} else {
		slog.Info("youtube caption upload disabled (missing YT_CLIENT_ID/YT_CLIENT_SECRET)")
	}

	jobDone := make(chan struct{})
	go func() {
		defer close(jobDone)
		vod.StartCaptionJob(ctx, database, pipeline, vod.JobConfig{
			Interval:      cfg.JobInterval,
			MaxConcurrent: cfg.MaxConcurrentJobs,
			MaxAttempts:   cfg.MaxAttempts,
			Options:       cfg.CaptionOptions(),
		})
	}()
	go vod.StartRetentionJob(ctx, database, vod.RetentionPolicy{
		KeepDays: cfg.RetentionKeepDays,
		DryRun:   cfg.RetentionDryRun,
		Interval: cfg.RetentionInterval,
	})

	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, deps); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	<-jobDone
}
