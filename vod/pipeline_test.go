package vod

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/chatcaptions/caption"
)

type fakeSource struct {
	events []caption.RawEvent
	err    error
	calls  atomic.Int32
	// gate blocks FetchAll until closed when set
	gate chan struct{}
}

func (f *fakeSource) FetchAll(ctx context.Context, vodID string) ([]caption.RawEvent, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.events, f.err
}

type memEvents struct {
	byVOD map[string][]caption.RawEvent
}

func newMemEvents() *memEvents { return &memEvents{byVOD: map[string][]caption.RawEvent{}} }

func (m *memEvents) ReplaceEvents(ctx context.Context, vodID string, vodStart time.Time, events []caption.RawEvent) (int, error) {
	m.byVOD[vodID] = append([]caption.RawEvent(nil), events...)
	return len(events), nil
}

func (m *memEvents) LoadEvents(ctx context.Context, vodID string) ([]caption.RawEvent, error) {
	return m.byVOD[vodID], nil
}

type memTracks struct {
	tracks map[string]Track
}

func newMemTracks() *memTracks { return &memTracks{tracks: map[string]Track{}} }

func (m *memTracks) SaveTrack(ctx context.Context, t Track) error {
	m.tracks[t.VODID] = t
	return nil
}

func (m *memTracks) SetYouTubeCaptionID(ctx context.Context, vodID, captionID string) error {
	t, ok := m.tracks[vodID]
	if !ok {
		return ErrTrackNotFound
	}
	t.YouTubeCaptionID = captionID
	m.tracks[vodID] = t
	return nil
}

type fakeUploader struct {
	videoID, language, name, body string
	id                            string
	err                           error
	calls                         int
}

func (f *fakeUploader) UploadCaption(ctx context.Context, videoID, language, name string, body io.Reader) (string, error) {
	f.calls++
	b, _ := io.ReadAll(body)
	f.videoID, f.language, f.name, f.body = videoID, language, name, string(b)
	return f.id, f.err
}

func sampleEvents() []caption.RawEvent {
	return []caption.RawEvent{
		{ID: "a", Offset: 0, Author: "alice", Body: "hi"},
		{ID: "b", Offset: 5 * time.Second, Author: "bob", Body: "yo"},
	}
}

func plainOptions() caption.Options {
	return caption.Options{Duration: 10 * time.Second}
}

const sampleSRT = "1\n00:00:00,000 --> 00:00:05,000\nalice: hi\n\n" +
	"2\n00:00:05,000 --> 00:00:10,000\nalice: hi\nbob: yo\n\n" +
	"3\n00:00:10,000 --> 00:00:15,000\nbob: yo\n\n"

func TestPipelineRun(t *testing.T) {
	src := &fakeSource{events: sampleEvents()}
	store := newMemEvents()
	tracks := newMemTracks()
	p := &Pipeline{Source: src, Store: store, Tracks: tracks}

	res, err := p.Run(context.Background(), "123", plainOptions())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Imported || res.Events != 2 || res.Candidates != 2 {
		t.Errorf("result = %+v", res)
	}
	got := tracks.tracks["123"]
	if got.Body != sampleSRT {
		t.Errorf("track body =\n%q\nwant\n%q", got.Body, sampleSRT)
	}
	if got.Entries != 3 || got.Format != "srt" {
		t.Errorf("track = entries %d format %q", got.Entries, got.Format)
	}
	if got.Options != plainOptions() {
		t.Errorf("track options = %+v", got.Options)
	}
}

func TestPipelineSkipsImportedChat(t *testing.T) {
	src := &fakeSource{err: errors.New("should not be called")}
	store := newMemEvents()
	store.byVOD["123"] = sampleEvents()
	p := &Pipeline{Source: src, Store: store, Tracks: newMemTracks()}

	res, err := p.RunVOD(context.Background(), VOD{ID: "123", ChatState: ChatImported}, plainOptions())
	if err != nil {
		t.Fatalf("RunVOD() error = %v", err)
	}
	if n := src.calls.Load(); n != 0 {
		t.Errorf("source called %d times for imported chat", n)
	}
	if res.Imported || res.Track.Entries != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestPipelineUploadsToYouTube(t *testing.T) {
	up := &fakeUploader{id: "cap-1"}
	tracks := newMemTracks()
	p := &Pipeline{
		Source:    &fakeSource{events: sampleEvents()},
		Store:     newMemEvents(),
		Tracks:    tracks,
		Uploader:  up,
		Language:  "en",
		TrackName: "Chat",
	}
	res, err := p.RunVOD(context.Background(), VOD{ID: "123", YouTubeVideoID: "yt-9"}, plainOptions())
	if err != nil {
		t.Fatalf("RunVOD() error = %v", err)
	}
	if up.calls != 1 || up.videoID != "yt-9" || up.language != "en" || up.name != "Chat" || up.body != sampleSRT {
		t.Errorf("upload = %+v", up)
	}
	if res.CaptionID != "cap-1" || tracks.tracks["123"].YouTubeCaptionID != "cap-1" {
		t.Errorf("caption id not recorded: %+v", res)
	}
}

func TestPipelineUploadSkipped(t *testing.T) {
	tests := []struct {
		name   string
		events []caption.RawEvent
		ytID   string
	}{
		{name: "no youtube video", events: sampleEvents()},
		{name: "empty chat", events: nil, ytID: "yt-9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUploader{id: "cap-1"}
			p := &Pipeline{Source: &fakeSource{events: tt.events}, Store: newMemEvents(), Tracks: newMemTracks(), Uploader: up}
			if _, err := p.RunVOD(context.Background(), VOD{ID: "123", YouTubeVideoID: tt.ytID}, plainOptions()); err != nil {
				t.Fatalf("RunVOD() error = %v", err)
			}
			if up.calls != 0 {
				t.Errorf("upload should be skipped, got %d calls", up.calls)
			}
		})
	}
}

func TestPipelineErrors(t *testing.T) {
	fetchErr := errors.New("gql comments: status 502")
	upErr := errors.New("youtube caption upload: boom")
	tests := []struct {
		name     string
		vod      VOD
		opts     caption.Options
		src      *fakeSource
		up       *fakeUploader
		wantErr  error
		imported bool
	}{
		{name: "empty id", vod: VOD{}, opts: plainOptions(), src: &fakeSource{}},
		{name: "zero duration", vod: VOD{ID: "1"}, opts: caption.Options{}, src: &fakeSource{}, wantErr: caption.ErrInvalidDuration},
		{name: "fetch failure", vod: VOD{ID: "1"}, opts: plainOptions(), src: &fakeSource{err: fetchErr}, wantErr: fetchErr},
		{name: "upload failure", vod: VOD{ID: "1", YouTubeVideoID: "yt"}, opts: plainOptions(), src: &fakeSource{events: sampleEvents()}, up: &fakeUploader{err: upErr}, wantErr: upErr, imported: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Pipeline{Source: tt.src, Store: newMemEvents(), Tracks: newMemTracks()}
			if tt.up != nil {
				p.Uploader = tt.up
			}
			res, err := p.RunVOD(context.Background(), tt.vod, tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if res.Imported != tt.imported {
				t.Errorf("Imported = %v, want %v", res.Imported, tt.imported)
			}
		})
	}
}

func TestRender(t *testing.T) {
	intervals, candidates, err := Render(sampleEvents(), plainOptions())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if candidates != 2 || len(intervals) != 3 {
		t.Fatalf("Render() = %d intervals from %d candidates", len(intervals), candidates)
	}
	if intervals[1].Content != "alice: hi\nbob: yo" {
		t.Errorf("stacked content = %q", intervals[1].Content)
	}
}
