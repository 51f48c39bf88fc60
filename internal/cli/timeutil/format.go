// Package timeutil provides time formatting utilities for CLI output.
package timeutil

import (
	"fmt"
	"time"
)

// LocalTimeFormat is the format used for displaying local times in CLI output.
// Uses Go's reference time: Mon Jan 2 15:04:05 2006.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatUnix renders seconds since the epoch, as found in a stat result,
// as a local time.
func FormatUnix(sec int64) string {
	return time.Unix(sec, 0).Local().Format(LocalTimeFormat)
}

// FormatElapsed renders a transfer duration like "1m 5s" or "350ms".
func FormatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Microsecond).String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
