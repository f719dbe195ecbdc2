package procmon

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func testEvent(proc, op, path, result, detail string) Event {
	return Event{
		TimeOfDay:   "10:00:00.0000000 AM",
		ProcessName: proc,
		PID:         "1234",
		Operation:   op,
		Path:        path,
		Result:      result,
		Detail:      detail,
	}
}

// writeCaptureCSV writes a canonical tabular file under t.TempDir.
func writeCaptureCSV(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		t.Fatal(err)
	}
	for i := range events {
		if err := w.Write(events[i].Row()); err != nil {
			t.Fatal(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}
