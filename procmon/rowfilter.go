package procmon

import (
	"fmt"
	"io"
	"strings"
)

// DefaultRowCap bounds how many matching rows a filter pass returns.
const DefaultRowCap = 150

// RowFilter selects rows from a tabular file by exactly one of category,
// keyword, or path pattern. Cap <= 0 falls back to DefaultRowCap.
type RowFilter struct {
	Category string
	Keyword  string
	PathPat  string
	Cap      int
}

func (f RowFilter) match(ev *Event) bool {
	switch {
	case f.Category != "":
		return Categorize(ev) == strings.ToLower(f.Category)
	case f.Keyword != "":
		kw := strings.ToLower(f.Keyword)
		return strings.Contains(strings.ToLower(ev.Path), kw) ||
			strings.Contains(strings.ToLower(ev.Detail), kw) ||
			strings.Contains(strings.ToLower(ev.ProcessName), kw)
	case f.PathPat != "":
		return strings.Contains(strings.ToLower(ev.Path), strings.ToLower(f.PathPat))
	default:
		return false
	}
}

// FilterRows scans the tabular file and returns matching rows in capture
// order, capped. No match is an empty slice, not an error.
func FilterRows(path string, f RowFilter) ([]Event, error) {
	limit := f.Cap
	if limit <= 0 {
		limit = DefaultRowCap
	}
	r, err := OpenCSV(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if !f.match(&ev) {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			return out, nil
		}
	}
}

// FormatRows renders events compactly for model context, one row per
// line.
func FormatRows(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "%s | %s | %s", ev.ProcessName, ev.Operation, ev.Path)
		if ev.Detail != "" {
			fmt.Fprintf(&b, " | %s", truncate(ev.Detail, 50))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
