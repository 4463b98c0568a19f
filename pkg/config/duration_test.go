package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		input string
		want  Duration
	}{
		{"0s", 0},
		{"1s", 1_000},
		{"30s", 30_000},
		{"5m", 300_000},
		{"1h", 3_600_000},
		{"1d", 86_400_000},
		{"7d", 604_800_000},
		{"2w", 1_209_600_000},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}
}

func TestParseDuration_RejectsInvalid(t *testing.T) {
	invalid := []string{
		"", "5", "s", "5 m", " 5m", "5m ", "-5m", "1.5h", "5ms", "5y", "5M", "1h30m",
	}
	for _, input := range invalid {
		_, err := ParseDuration(input)
		assert.Error(t, err, "%q", input)
	}
}
