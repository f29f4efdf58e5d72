// schedule.go parses crash schedules: comma-separated durations after
// which successive crash cycles are triggered.
package main

import (
	"fmt"
	"strings"
	"time"
)

// parseCrashSchedule parses a comma-separated list of durations, e.g.
// "1s, 250ms,5s". Every entry must be a positive duration.
func parseCrashSchedule(s string) ([]time.Duration, error) {
	parts := strings.Split(s, ",")
	var out []time.Duration
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid crash schedule entry %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("crash schedule entry %q must be positive", part)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty crash schedule")
	}
	return out, nil
}
