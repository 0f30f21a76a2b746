package config

import (
	"testing"
	"time"
)

func TestParseISODuration(t *testing.T) {
	cases := map[string]time.Duration{
		"":        0,
		"PT4H":    4 * time.Hour,
		"PT30M":   30 * time.Minute,
		"P1DT30M": 24*time.Hour + 30*time.Minute,
		"PT90S":   90 * time.Second,
		"PT1H30M": time.Hour + 30*time.Minute,
		"PT1.5S":  1500 * time.Millisecond,
	}
	for input, want := range cases {
		got, err := ParseISODuration(input)
		if err != nil {
			t.Fatalf("ParseISODuration(%q): %v", input, err)
		}
		if got != want {
			t.Errorf("ParseISODuration(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseISODuration_Invalid(t *testing.T) {
	for _, input := range []string{"garbage", "4H", "P1Y"} {
		if _, err := ParseISODuration(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}
