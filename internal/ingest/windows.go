package ingest

import (
	"time"

	"tiktok-sheets/internal/orders"
)

// Window is a half-open [Start, End) epoch range that fills one month sheet.
type Window struct {
	Start int64
	End   int64
	Sheet string
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func monthWindow(first, end time.Time) Window {
	return Window{Start: first.Unix(), End: end.Unix(), Sheet: orders.MonthSheetName(first)}
}

// CurrentWindows returns the current month up to now and, while the lookback
// still reaches into it, the whole previous month. Oldest first.
func CurrentWindows(now time.Time, lookbackDays int) []Window {
	current := monthStart(now)
	var out []Window
	if lookbackDays > 0 && now.Day() <= lookbackDays {
		previous := current.AddDate(0, -1, 0)
		out = append(out, monthWindow(previous, current))
	}
	return append(out, monthWindow(current, now))
}

// YearWindows returns one window per month from January through now.
func YearWindows(now time.Time) []Window {
	current := monthStart(now)
	first := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	var out []Window
	for m := first; m.Before(current); m = m.AddDate(0, 1, 0) {
		out = append(out, monthWindow(m, m.AddDate(0, 1, 0)))
	}
	return append(out, monthWindow(current, now))
}
