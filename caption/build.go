package caption

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Build maps events to candidate intervals, one per event with printable text,
// preserving input order.
func Build(events []RawEvent, opts Options) ([]Candidate, error) {
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidDuration, opts.Duration)
	}
	out := make([]Candidate, 0, len(events))
	for _, ev := range events {
		if ev.Offset < 0 {
			continue
		}
		if ev.Offset > time.Duration(math.MaxInt64)-opts.Duration {
			return nil, fmt.Errorf("%w: %s past offset %s overflows", ErrInvalidDuration, opts.Duration, ev.Offset)
		}
		text := MessageText(ev, opts.EmoteText)
		if text == "" {
			continue
		}
		out = append(out, Candidate{
			Start:   ev.Offset,
			End:     ev.Offset + opts.Duration,
			Content: formatLine(ev, text, opts),
		})
	}
	return out, nil
}

// MessageText returns the printable message of ev. With emoteText the raw body
// is used; otherwise emote fragments are dropped and the remaining text
// fragments are trimmed and joined by single spaces.
func MessageText(ev RawEvent, emoteText bool) string {
	if emoteText || len(ev.Fragments) == 0 {
		return strings.TrimSpace(ev.Body)
	}
	var b strings.Builder
	for _, f := range ev.Fragments {
		if f.Emote {
			continue
		}
		t := strings.TrimSpace(f.Text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	return b.String()
}

func formatLine(ev RawEvent, text string, opts Options) string {
	var b strings.Builder
	if opts.Position {
		b.WriteString(`{\an3}`)
	}
	if !opts.Color {
		b.WriteString(ev.Author)
		b.WriteString(": ")
		b.WriteString(text)
		return b.String()
	}
	color := ev.Color
	if color == "" {
		color = DefaultColor
	}
	fmt.Fprintf(&b, `<font color="%s">%s: </font><font color="#FFFFFF">%s</font>`, color, ev.Author, text)
	return b.String()
}
