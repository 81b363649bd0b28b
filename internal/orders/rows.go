package orders

import (
	"sort"
	"strings"
	"time"

	"tiktok-sheets/internal/models"
)

// SortByCreatedTime orders rows oldest first. Rows whose created time is
// empty or unparsable come first, keeping their relative order.
func SortByCreatedTime(rows []models.OrderRow, loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	type keyed struct {
		ok bool
		t  time.Time
	}
	keys := make([]keyed, len(rows))
	for i := range rows {
		t, ok := ParseCreatedTime(rows[i].CreatedTime, loc)
		keys[i] = keyed{ok: ok, t: t}
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		if !ka.ok || !kb.ok {
			return !ka.ok && kb.ok
		}
		return ka.t.Before(kb.t)
	})

	sorted := make([]models.OrderRow, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

// Merge adds rows to dst keyed by dedup key and reports how many were new.
// A later row with an existing key replaces the earlier one.
func Merge(dst map[string]models.OrderRow, rows []models.OrderRow) int {
	added := 0
	for _, row := range rows {
		key := row.Key()
		if _, ok := dst[key]; !ok {
			added++
		}
		dst[key] = row
	}
	return added
}

// Collect returns the merged rows sorted by created time.
func Collect(src map[string]models.OrderRow, loc *time.Location) []models.OrderRow {
	rows := make([]models.OrderRow, 0, len(src))
	for _, row := range src {
		rows = append(rows, row)
	}
	// map order is random; fix it before the stable time sort
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key() < rows[j].Key() })
	SortByCreatedTime(rows, loc)
	return rows
}

// FilterWindow keeps rows created within [start, end).
func FilterWindow(rows []models.OrderRow, start, end int64) []models.OrderRow {
	out := rows[:0:0]
	for _, row := range rows {
		if row.CreateTime >= start && row.CreateTime < end {
			out = append(out, row)
		}
	}
	return out
}

// MonthSheetName names the sheet holding a month's rows, e.g. "March 2025".
func MonthSheetName(t time.Time) string {
	return t.Format("January 2006")
}

// SheetNameForRow routes a row to its month sheet in loc.
func SheetNameForRow(row models.OrderRow, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return MonthSheetName(time.Unix(row.CreateTime, 0).In(loc))
}

// IsMonthSheet reports whether a sheet title starts with an English month name.
func IsMonthSheet(title string) bool {
	for m := time.January; m <= time.December; m++ {
		if strings.HasPrefix(title, m.String()) {
			return true
		}
	}
	return false
}
