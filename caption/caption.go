// Package caption turns timestamped chat events into a caption track.
//
// It provides two steps:
//   - Build: maps each chat event to a fixed-length candidate display window
//     whose content is the formatted "author: message" line.
//   - Merge: resolves overlapping candidates into a non-overlapping partition
//     where every interval shows all messages visible at that instant, stacked
//     in arrival order.
//
// Both steps are pure functions over in-memory slices.
package caption

import (
	"errors"
	"time"
)

// DefaultColor is used for the author name when the event carries no color.
const DefaultColor = "#1E90FF"

// DefaultDuration is how long a single message stays on screen.
const DefaultDuration = 60 * time.Second

var (
	// ErrInvalidDuration is returned by Build when the display duration is not positive.
	ErrInvalidDuration = errors.New("caption: display duration must be positive")
	// ErrInvalidInterval is returned by Merge when a candidate has start >= end.
	ErrInvalidInterval = errors.New("caption: candidate start must be before end")
)

// Fragment is one piece of a chat message. Emote fragments carry the emote's
// text code (e.g. "Kappa").
type Fragment struct {
	Text  string `json:"text"`
	Emote bool   `json:"emote,omitempty"`
}

// RawEvent is a single chat message positioned on the video timeline.
type RawEvent struct {
	ID        string
	Offset    time.Duration
	Author    string
	Color     string
	Body      string
	Fragments []Fragment
}

// Candidate is a tentative display window for one message. Candidates may overlap.
type Candidate struct {
	Start   time.Duration
	End     time.Duration
	Content string
}

// Interval is a final, non-overlapping caption entry.
type Interval struct {
	Index   int
	Start   time.Duration
	End     time.Duration
	Content string
}

// Options controls how events are turned into candidates.
type Options struct {
	// Duration is the on-screen time of each message.
	Duration time.Duration
	// EmoteText keeps emote codes in the text. When false only plain text fragments are kept.
	EmoteText bool
	// Color wraps the author name in a <font color> tag.
	Color bool
	// Position anchors the caption to the bottom-right corner ({\an3}).
	Position bool
}

// DefaultOptions returns the ttv2srt command-line defaults.
func DefaultOptions() Options {
	return Options{Duration: DefaultDuration, Color: true, Position: true}
}
