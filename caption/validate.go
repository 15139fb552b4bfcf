package caption

import "fmt"

// Validate reports the first violation of the track invariants: positive
// length, ascending non-overlapping order and dense 1-based indices.
func Validate(intervals []Interval) error {
	for i, iv := range intervals {
		if iv.Index != i+1 {
			return fmt.Errorf("interval %d: index %d, want %d", i, iv.Index, i+1)
		}
		if iv.Start >= iv.End {
			return fmt.Errorf("interval %d: degenerate range [%s, %s)", iv.Index, iv.Start, iv.End)
		}
		if i > 0 && intervals[i-1].End > iv.Start {
			return fmt.Errorf("interval %d: starts at %s before previous end %s", iv.Index, iv.Start, intervals[i-1].End)
		}
	}
	return nil
}
