package procmon

import (
	"encoding/csv"
	"io"
	"os"
	"strings"
)

// ExportOptions narrow which events a re-export keeps. Zero value keeps
// everything.
type ExportOptions struct {
	// ProcessName keeps only events whose process name contains this
	// substring (case-insensitive).
	ProcessName string
	// Scenario applies a named capture scenario's row predicate.
	Scenario Scenario
}

func (o ExportOptions) keep(ev *Event) bool {
	if o.ProcessName != "" &&
		!strings.Contains(strings.ToLower(ev.ProcessName), strings.ToLower(o.ProcessName)) {
		return false
	}
	if o.Scenario != "" && !o.Scenario.Match(ev) {
		return false
	}
	return true
}

// ExportCSV rewrites src as a canonical tabular file at dest: the full
// column set in canonical order, with columns absent from the source left
// empty. Returns the number of data rows written. Exporting an already
// canonical file with zero options reproduces it row for row.
func ExportCSV(src, dest string, opts ExportOptions) (int64, error) {
	r, err := OpenCSV(src)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, &ExportError{Source: src, Dest: dest, Err: err}
	}
	w := csv.NewWriter(out)
	if err := w.Write(Columns); err != nil {
		out.Close()
		return 0, &ExportError{Source: src, Dest: dest, Err: err}
	}

	var n int64
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			return n, err
		}
		if !opts.keep(&ev) {
			continue
		}
		if err := w.Write(ev.Row()); err != nil {
			out.Close()
			return n, &ExportError{Source: src, Dest: dest, Err: err}
		}
		n++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return n, &ExportError{Source: src, Dest: dest, Err: err}
	}
	if err := out.Close(); err != nil {
		return n, &ExportError{Source: src, Dest: dest, Err: err}
	}
	return n, nil
}
