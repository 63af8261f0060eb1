package digest

import (
	"fmt"
	"time"
)

// Window is a half-open UTC interval [Start, End). Adjacent windows share a
// boundary instant without overlapping: an item created exactly at End
// belongs to the next window.
type Window struct {
	Start time.Time
	End   time.Time
}

// StartMs and EndMs return the bounds in Unix milliseconds for store queries.
func (w Window) StartMs() int64 { return w.Start.UnixMilli() }
func (w Window) EndMs() int64   { return w.End.UnixMilli() }

// Label renders the window for digest titles and file names.
func (w Window) Label() string {
	return fmt.Sprintf("%s_to_%s",
		w.Start.Format("2006-01-02"),
		w.End.Add(-24*time.Hour).Format("2006-01-02"))
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// WeeklyWindow returns the week containing ref, starting at midnight UTC on
// weekStart and spanning exactly seven days.
func WeeklyWindow(ref time.Time, weekStart time.Weekday) Window {
	ref = ref.UTC()
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	start := day.AddDate(0, 0, -offset)
	return Window{Start: start, End: start.AddDate(0, 0, 7)}
}

// MonthlyWindow returns the calendar month containing ref, in UTC.
func MonthlyWindow(ref time.Time) Window {
	ref = ref.UTC()
	start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// PreviousWindow returns the window of the same length immediately before w.
func PreviousWindow(w Window) Window {
	span := w.End.Sub(w.Start)
	return Window{Start: w.Start.Add(-span), End: w.Start}
}
