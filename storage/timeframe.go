package storage

import (
	"fmt"
	"strings"
	"time"
)

// TimeFrame is a named leaderboard window. The zero value, NoTimeFrame, is the
// absent window: the all-time aggregate, persisted as SQL NULL.
type TimeFrame int

const (
	NoTimeFrame TimeFrame = iota
	AllTime
	Monthly
	Weekly
)

// TimeFrames lists every named window (NoTimeFrame excluded).
var TimeFrames = []TimeFrame{AllTime, Monthly, Weekly}

// String returns the tag persisted in the time_frame column, or "" for NoTimeFrame.
func (tf TimeFrame) String() string {
	switch tf {
	case NoTimeFrame:
		return ""
	case AllTime:
		return "ALL_TIME"
	case Monthly:
		return "MONTHLY"
	case Weekly:
		return "WEEKLY"
	default:
		return "UNKNOWN"
	}
}

// IsSet reports whether tf names a window.
func (tf TimeFrame) IsSet() bool {
	return tf != NoTimeFrame
}

// Valid reports whether tf is one of the defined values.
func (tf TimeFrame) Valid() bool {
	return tf >= NoTimeFrame && tf <= Weekly
}

// Tag returns the column value for tf: nil (SQL NULL) for NoTimeFrame.
func (tf TimeFrame) Tag() *string {
	if !tf.IsSet() {
		return nil
	}
	s := tf.String()
	return &s
}

// Label is String with NoTimeFrame spelled "NONE", for display and parameters.
func (tf TimeFrame) Label() string {
	if !tf.IsSet() {
		return "NONE"
	}
	return tf.String()
}

// ParseTimeFrame parses a persisted or user-supplied tag. Matching is
// case-insensitive and "-" is accepted for "_". The empty string and "NONE"
// are NoTimeFrame.
func ParseTimeFrame(s string) (TimeFrame, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if norm == "" || norm == "NONE" {
		return NoTimeFrame, nil
	}
	for _, tf := range TimeFrames {
		if tf.String() == norm {
			return tf, nil
		}
	}
	return NoTimeFrame, fmt.Errorf("unknown time frame %q", s)
}

// PeriodStart returns the start (UTC) of the period of tf containing t.
// Windows that never reset (NoTimeFrame, AllTime) return the zero time.
func (tf TimeFrame) PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	switch tf {
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Weekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// ISO weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Time{}
	}
}

// Resets reports whether tf is periodically cleared.
func (tf TimeFrame) Resets() bool {
	return tf == Monthly || tf == Weekly
}

// WindowPredicate returns the NULL-aware WHERE fragment selecting rows of tf.
// placeholder is the bind marker to use ("?" or "$2"); args holds the value to
// bind, empty when the window is unset.
func WindowPredicate(tf TimeFrame, placeholder string) (clause string, args []any) {
	if !tf.IsSet() {
		return "time_frame IS NULL", nil
	}
	return "time_frame = " + placeholder, []any{tf.String()}
}
