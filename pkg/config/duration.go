package config

import (
	"fmt"
	"regexp"
	"strconv"
)

// Duration is a config-file duration in milliseconds. The config
// grammar is deliberately narrow: an integer followed by exactly one
// of s, m, h, d, w.
type Duration int64

var durationPattern = regexp.MustCompile(`^([0-9]+)([smhdw])$`)

// Millisecond multipliers per unit.
var unitMultipliers = map[string]int64{
	"s": 1000,
	"m": 60_000,
	"h": 3_600_000,
	"d": 86_400_000,
	"w": 604_800_000,
}

// ParseDuration parses a duration string like "30s", "5m", "1h",
// "7d", "2w" into milliseconds. Anything outside the grammar is an
// error; there is no lenient mode at this layer.
func ParseDuration(s string) (Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: expected <integer><s|m|h|d|w>", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(n * unitMultipliers[m[2]]), nil
}

// Milliseconds returns the raw millisecond value.
func (d Duration) Milliseconds() int64 {
	return int64(d)
}
