// Command ttv2srt downloads the chat replay of a Twitch VOD and writes it as
// an SRT subtitle track with overlapping messages merged.
//
// Usage:
//
//	ttv2srt [flags] <vod url or id>
//	ttv2srt merge <in.srt> [-o out.srt]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/chatcaptions/caption"
	"github.com/onnwee/chatcaptions/srt"
	"github.com/onnwee/chatcaptions/twitchapi"
)

var errNoInput = errors.New("missing vod url or id")

type rootOptions struct {
	emoji      bool
	seconds    int
	color      bool
	monochrome bool
	extended   bool
	simple     bool
	output     string
	gqlURL     string
	clientID   string
	pageDelay  time.Duration
}

func (o rootOptions) captionOptions() caption.Options {
	return caption.Options{
		Duration:  time.Duration(o.seconds) * time.Second,
		EmoteText: o.emoji,
		Color:     o.color && !o.monochrome,
		Position:  o.extended && !o.simple,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	defaults := caption.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "ttv2srt [flags] <vod url or id>",
		Short: "Convert Twitch VOD chat into SRT subtitles",
		Long: `ttv2srt downloads the chat replay of a Twitch VOD and writes it as a SubRip
subtitle track. Every message stays on screen for --time seconds; messages
that overlap are stacked into one subtitle, oldest first.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return errNoInput
			}
			return runConvert(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.emoji, "emoji", "e", defaults.EmoteText, "include emote codes in the message text")
	f.IntVarP(&opts.seconds, "time", "t", int(defaults.Duration/time.Second), "seconds each message stays on screen")
	f.BoolVarP(&opts.color, "color", "k", defaults.Color, "color usernames (not supported by all players)")
	f.BoolVarP(&opts.monochrome, "monochrome", "m", !defaults.Color, "plain usernames without color tags")
	f.BoolVarP(&opts.extended, "extended", "x", defaults.Position, "anchor subtitles to the bottom-right corner (not supported by all players)")
	f.BoolVarP(&opts.simple, "simple", "s", !defaults.Position, "no position tags")
	f.StringVarP(&opts.output, "output", "o", "", "output file (default <vod id>.srt)")
	f.StringVar(&opts.gqlURL, "gql-url", envOr("TWITCH_GQL_URL", twitchapi.DefaultGQLURL), "Twitch GraphQL endpoint")
	f.StringVar(&opts.clientID, "client-id", envOr("TWITCH_GQL_CLIENT_ID", twitchapi.WebClientID), "Client-Id sent to the GraphQL endpoint")
	f.DurationVar(&opts.pageDelay, "page-delay", 0, "wait between comment page requests")
	_ = f.MarkHidden("gql-url")
	_ = f.MarkHidden("client-id")
	cmd.MarkFlagsMutuallyExclusive("color", "monochrome")
	cmd.MarkFlagsMutuallyExclusive("extended", "simple")

	cmd.AddCommand(newMergeCmd())
	return cmd
}

func runConvert(ctx context.Context, out io.Writer, input string, opts rootOptions) error {
	vodID, err := twitchapi.ParseVODID(input)
	if err != nil {
		return err
	}
	copts := opts.captionOptions()
	if copts.Duration <= 0 {
		return fmt.Errorf("%w: --time must be positive", caption.ErrInvalidDuration)
	}

	client := &twitchapi.CommentClient{
		BaseURL:   opts.gqlURL,
		ClientID:  opts.clientID,
		PageDelay: opts.pageDelay,
	}
	fmt.Fprintln(out, "Downloading chat...")
	events, err := client.FetchAll(ctx, vodID)
	if err != nil {
		return fmt.Errorf("download chat for %s: %w", vodID, err)
	}

	fmt.Fprintln(out, "Parsing comments...")
	candidates, err := caption.Build(events, copts)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Merging overlaps...")
	intervals, err := mergeCandidates(candidates)
	if err != nil {
		return err
	}

	path := opts.output
	if path == "" {
		path = vodID + ".srt"
	}
	if err := writeTrack(path, intervals); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s written.\n", path)
	slog.Debug("track written", slog.String("vod_id", vodID), slog.Int("comments", len(events)), slog.Int("entries", len(intervals)))
	return nil
}

func mergeCandidates(candidates []caption.Candidate) ([]caption.Interval, error) {
	intervals, err := caption.Merge(candidates)
	if err != nil {
		return nil, err
	}
	if err := caption.Validate(intervals); err != nil {
		return nil, fmt.Errorf("merged track invalid: %w", err)
	}
	return intervals, nil
}

func writeTrack(path string, intervals []caption.Interval) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := srt.Compose(f, intervals); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func newMergeCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "merge <in.srt>",
		Short: "Merge overlapping entries of an existing SRT file",
		Long: `merge reads a SubRip file whose entries may overlap in time and rewrites it
so no two entries overlap, stacking the text of concurrent entries. The result
goes to --output, or to stdout when no output is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(args[0], output, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func runMerge(in, output string, stdout io.Writer) error {
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	entries, err := srt.Parse(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("parse %s: %w", in, err)
	}
	intervals, err := mergeCandidates(srt.Candidates(entries))
	if err != nil {
		return err
	}
	if output == "" {
		return srt.Compose(stdout, intervals)
	}
	if err := writeTrack(output, intervals); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s written.\n", output)
	return nil
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
