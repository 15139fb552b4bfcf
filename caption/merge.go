package caption

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// boundary marks the start or end of candidate id at a point in time.
type boundary struct {
	at    time.Duration
	id    int
	start bool
}

// Merge resolves overlapping candidates into a sorted, non-overlapping
// sequence of intervals. Every instant covered by at least one candidate is
// covered by exactly one interval whose content lists the content of every
// covering candidate in arrival order, one per line. Gaps stay gaps and
// indices are dense and 1-based.
//
// The input is not modified. A candidate with start >= end yields ErrInvalidInterval.
func Merge(candidates []Candidate) ([]Interval, error) {
	bounds := make([]boundary, 0, 2*len(candidates))
	for i, c := range candidates {
		if c.Start >= c.End {
			return nil, fmt.Errorf("%w: candidate %d [%s, %s)", ErrInvalidInterval, i, c.Start, c.End)
		}
		bounds = append(bounds, boundary{at: c.Start, id: i, start: true}, boundary{at: c.End, id: i})
	}
	slices.SortStableFunc(bounds, func(a, b boundary) int {
		switch {
		case a.at < b.at:
			return -1
		case a.at > b.at:
			return 1
		}
		return a.id - b.id
	})

	var (
		out    []Interval
		active []int // candidate ids ordered by arrival
	)
	for i := 0; i < len(bounds); {
		at := bounds[i].at
		for ; i < len(bounds) && bounds[i].at == at; i++ {
			b := bounds[i]
			pos, found := slices.BinarySearch(active, b.id)
			switch {
			case b.start && !found:
				active = slices.Insert(active, pos, b.id)
			case !b.start && found:
				active = slices.Delete(active, pos, pos+1)
			}
		}
		if len(active) == 0 || i == len(bounds) {
			continue
		}
		out = append(out, Interval{
			Index:   len(out) + 1,
			Start:   at,
			End:     bounds[i].at,
			Content: stack(candidates, active),
		})
	}
	return out, nil
}

func stack(candidates []Candidate, ids []int) string {
	if len(ids) == 1 {
		return candidates[ids[0]].Content
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = candidates[id].Content
	}
	return strings.Join(parts, "\n")
}

// Reindex assigns dense 1-based indices in slice order.
func Reindex(intervals []Interval) {
	for i := range intervals {
		intervals[i].Index = i + 1
	}
}
