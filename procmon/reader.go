package procmon

import (
	"encoding/csv"
	"io"
	"os"
	"strings"
)

// requiredColumns must be present in every tabular file this package
// accepts. The remaining canonical columns are optional on input and
// filled with empty strings on export.
var requiredColumns = []string{
	"Time of Day",
	"Process Name",
	"PID",
	"Operation",
	"Path",
	"Result",
	"Detail",
}

// Reader streams events out of a tabular capture file. It validates the
// header on open and maps columns by name, so files with extra or
// reordered columns still read correctly.
type Reader struct {
	f    *os.File
	cr   *csv.Reader
	path string
	idx  map[string]int
}

func OpenCSV(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		f.Close()
		return nil, &ParseError{Path: path, Err: err}
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		// Procmon sometimes emits a UTF-8 BOM before the first column.
		idx[strings.TrimPrefix(name, "\uFEFF")] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		f.Close()
		return nil, &SchemaMismatchError{Path: path, Missing: missing}
	}
	return &Reader{f: f, cr: cr, path: path, idx: idx}, nil
}

// Header returns the canonical column names present in the file, in
// canonical order.
func (r *Reader) Header() []string {
	var out []string
	for _, name := range Columns {
		if _, ok := r.idx[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Next returns the next event or io.EOF when the file is exhausted.
func (r *Reader) Next() (Event, error) {
	rec, err := r.cr.Read()
	if err == io.EOF {
		return Event{}, io.EOF
	}
	if err != nil {
		return Event{}, &ParseError{Path: r.path, Err: err}
	}
	get := func(name string) string {
		i, ok := r.idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}
	canon := make([]string, len(Columns))
	for i, name := range Columns {
		canon[i] = get(name)
	}
	return eventFromRow(canon), nil
}

func (r *Reader) Close() error { return r.f.Close() }

// ReadEvents reads the whole file, keeping only events the filter accepts.
// A nil filter keeps everything; limit <= 0 means unbounded.
func ReadEvents(path string, filter func(*Event) bool, limit int) ([]Event, error) {
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
		if filter != nil && !filter(&ev) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			return out, nil
		}
	}
}
