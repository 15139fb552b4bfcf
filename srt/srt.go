// Package srt reads and writes SubRip (.srt) caption tracks.
//
// Entries are blank-line separated blocks of an index, a time range
// ("HH:MM:SS,mmm --> HH:MM:SS,mmm") and one or more content lines. Content is
// written verbatim, so inline markup such as <font> or {\an3} survives a
// Compose/Parse round trip unchanged.
package srt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chatcaptions/caption"
)

const arrow = " --> "

// Compose writes intervals in SubRip format. Indices are written as given.
func Compose(w io.Writer, intervals []caption.Interval) error {
	bw := bufio.NewWriter(w)
	for _, iv := range intervals {
		if _, err := fmt.Fprintf(bw, "%d\n%s%s%s\n%s\n\n", iv.Index, FormatTimestamp(iv.Start), arrow, FormatTimestamp(iv.End), iv.Content); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Format returns the SubRip text for intervals.
func Format(intervals []caption.Interval) string {
	var b strings.Builder
	_ = Compose(&b, intervals)
	return b.String()
}

// FormatTimestamp renders d as HH:MM:SS,mmm, truncating below milliseconds.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// ParseTimestamp parses HH:MM:SS,mmm. A '.' millisecond separator is accepted.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	clock, frac, ok := strings.Cut(strings.Replace(s, ".", ",", 1), ",")
	if !ok {
		return 0, fmt.Errorf("timestamp %q: missing milliseconds", s)
	}
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("timestamp %q: want HH:MM:SS", s)
	}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("timestamp %q: bad field %q", s, p)
		}
		fields[i] = n
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("timestamp %q: minutes and seconds must be < 60", s)
	}
	if len(frac) == 0 || len(frac) > 3 {
		return 0, fmt.Errorf("timestamp %q: bad milliseconds %q", s, frac)
	}
	ms, err := strconv.Atoi(frac + strings.Repeat("0", 3-len(frac)))
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: bad milliseconds %q", s, frac)
	}
	return time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// Parse reads a SubRip track. It tolerates a UTF-8 BOM, CRLF line endings,
// runs of blank lines and a missing index line.
func Parse(r io.Reader) ([]caption.Interval, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		out   []caption.Interval
		block []string
		entry int
	)
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		entry++
		iv, err := parseBlock(block)
		block = block[:0]
		if err != nil {
			return fmt.Errorf("srt entry %d: %w", entry, err)
		}
		out = append(out, iv)
		return nil
	}
	first := true
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		block = append(block, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseBlock(lines []string) (caption.Interval, error) {
	var iv caption.Interval
	if !strings.Contains(lines[0], arrow) {
		n, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			return iv, fmt.Errorf("bad index %q", lines[0])
		}
		iv.Index = n
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return iv, fmt.Errorf("missing time range")
	}
	from, to, ok := strings.Cut(lines[0], arrow)
	if !ok {
		return iv, fmt.Errorf("bad time range %q", lines[0])
	}
	// Some writers append coordinates after the end timestamp.
	if f := strings.Fields(to); len(f) > 0 {
		to = f[0]
	}
	var err error
	if iv.Start, err = ParseTimestamp(from); err != nil {
		return iv, err
	}
	if iv.End, err = ParseTimestamp(to); err != nil {
		return iv, err
	}
	iv.Content = strings.Join(lines[1:], "\n")
	return iv, nil
}

// Candidates converts parsed entries back into merge candidates in file order.
// Entries with an empty or inverted range are dropped.
func Candidates(intervals []caption.Interval) []caption.Candidate {
	out := make([]caption.Candidate, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Start >= iv.End {
			continue
		}
		out = append(out, caption.Candidate{Start: iv.Start, End: iv.End, Content: iv.Content})
	}
	return out
}
