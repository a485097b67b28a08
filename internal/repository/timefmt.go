package repository

import "time"

// timeLayout is fixed-width so stored timestamps compare correctly as text
// in both dialects. Always UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
