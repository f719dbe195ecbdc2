package procmon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenCSV_MissingFileIsParseError(t *testing.T) {
	_, err := OpenCSV(filepath.Join(t.TempDir(), "absent.csv"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestOpenCSV_MissingColumnsReportedByName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("Time of Day,Operation,Result\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenCSV(path)
	var sm *SchemaMismatchError
	if !errors.As(err, &sm) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
	for _, want := range []string{"Process Name", "PID", "Path", "Detail"} {
		found := false
		for _, col := range sm.Missing {
			if col == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing columns %v do not include %q", sm.Missing, want)
		}
		if !strings.Contains(sm.Error(), want) {
			t.Fatalf("error text %q does not name column %q", sm.Error(), want)
		}
	}
}

func TestOpenCSV_ToleratesReorderedColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reordered.csv")
	content := "Operation,Path,Process Name,PID,Time of Day,Result,Detail\n" +
		"RegSetValue,HKCU\\x,evil.exe,42,10:00:00,SUCCESS,d\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	events, err := ReadEvents(path, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Operation != "RegSetValue" || ev.ProcessName != "evil.exe" || ev.PID != "42" {
		t.Fatalf("columns mapped wrong: %+v", ev)
	}
}

func TestOpenCSV_StripsByteOrderMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bom.csv")
	content := "\uFEFFTime of Day,Process Name,PID,Operation,Path,Result,Detail\n" +
		"10:00:00,evil.exe,42,RegSetValue,HKCU\\x,SUCCESS,d\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	events, err := ReadEvents(path, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].TimeOfDay != "10:00:00" {
		t.Fatalf("BOM-prefixed header not mapped: %+v", events)
	}
}

func TestReadEvents_LimitStopsEarly(t *testing.T) {
	var events []Event
	for i := 0; i < 10; i++ {
		events = append(events, testEvent("a.exe", "ReadFile", `C:\x`, "SUCCESS", ""))
	}
	path := writeCaptureCSV(t, events)
	got, err := ReadEvents(path, nil, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
}
