package destination

import (
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int
	}{
		{"90", 90},
		{" 5 ", 5},
		{"15m", 900},
		{"1h30m", 5400},
		{"01:30", 5400},
		{"0:05", 300},
		{"", DefaultInterval},
		{"0", DefaultInterval},
		{"-10", DefaultInterval},
		{"abc", DefaultInterval},
		{"500ms", DefaultInterval},
		{"1:75", DefaultInterval},
		{"10000000000", MaxInterval},
		{"2000000h", MaxInterval},
		{"99999999999999:00", MaxInterval},
	}
	for _, tt := range tests {
		if got := ParseInterval(tt.in); got != tt.want {
			t.Fatalf("ParseInterval(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatIntervalRoundTrips(t *testing.T) {
	t.Parallel()
	for _, sec := range []int{1, 59, 90, 3600, 5400} {
		if got := ParseInterval(FormatInterval(sec)); got != sec {
			t.Fatalf("ParseInterval(FormatInterval(%d)) = %d", sec, got)
		}
	}
}

func TestIntervalDurationNeverOverflows(t *testing.T) {
	t.Parallel()
	for _, n := range []int{MaxInterval, MaxInterval + 1, 10_000_000_000} {
		d := Destination{Interval: n}
		if got := d.IntervalDuration(); got != MaxInterval*time.Second {
			t.Fatalf("IntervalDuration(%d) = %v, want %v", n, got, MaxInterval*time.Second)
		}
	}
}
