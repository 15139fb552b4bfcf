package twitchapi

import (
	"fmt"
	"regexp"
)

var vodIDPattern = regexp.MustCompile(`\d+`)

// ParseVODID extracts the numeric VOD id from a URL such as
// https://www.twitch.tv/videos/123456789 or from a bare id ("123456789", "v123456789").
func ParseVODID(input string) (string, error) {
	id := vodIDPattern.FindString(input)
	if id == "" {
		return "", fmt.Errorf("invalid video id: no digits in %q", input)
	}
	return id, nil
}

// ParseDuration parses the Helix duration format like "3h15m42s" into seconds.
func ParseDuration(s string) int {
	var total, cur int
	digits := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			cur = cur*10 + int(r-'0')
			digits = true
			continue
		}
		if !digits {
			continue
		}
		switch r {
		case 'h':
			total += cur * 3600
		case 'm':
			total += cur * 60
		case 's':
			total += cur
		}
		cur, digits = 0, false
	}
	return total
}
