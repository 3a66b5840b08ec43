package destination

import (
	"strconv"
	"strings"
	"time"
)

// ParseInterval coerces operator input into whole seconds. It accepts
// plain seconds ("90"), Go durations ("15m", "1h30m") and HH:MM ("01:30").
// Anything unparseable or non-positive yields DefaultInterval and oversized
// values are capped at MaxInterval; it never fails.
func ParseInterval(raw string) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultInterval
	}
	if n, err := strconv.Atoi(s); err == nil {
		return NormalizeInterval(n)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return NormalizeInterval(int(d / time.Second))
	}
	if h, m, ok := strings.Cut(s, ":"); ok {
		hh, err1 := strconv.Atoi(h)
		mm, err2 := strconv.Atoi(m)
		if err1 == nil && err2 == nil && hh >= 0 && mm >= 0 && mm < 60 {
			if hh > MaxInterval/3600 {
				return MaxInterval
			}
			return NormalizeInterval(hh*3600 + mm*60)
		}
	}
	return DefaultInterval
}

// FormatInterval renders seconds the way ParseInterval reads them back.
func FormatInterval(sec int) string {
	return (time.Duration(NormalizeInterval(sec)) * time.Second).String()
}
