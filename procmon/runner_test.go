package procmon

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRunner_Validation(t *testing.T) {
	tmp := t.TempDir()
	cases := []RunnerConfig{
		{CaptureDir: tmp, DBPath: filepath.Join(tmp, "c.db")},               // no procmon
		{ProcmonPath: "Procmon.exe", DBPath: filepath.Join(tmp, "c.db")},   // no capture dir
		{ProcmonPath: "Procmon.exe", CaptureDir: tmp},                      // no db
	}
	for i, cfg := range cases {
		if _, err := NewRunner(cfg); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	tmp := t.TempDir()
	r, err := NewRunner(RunnerConfig{
		ProcmonPath: "Procmon.exe",
		CaptureDir:  tmp,
		DBPath:      filepath.Join(tmp, "captures.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestTimestampedPMLPath(t *testing.T) {
	r := newTestRunner(t)
	p := r.TimestampedPMLPath(ScenarioMalware)
	base := filepath.Base(p)
	if !strings.HasPrefix(base, "events_") || !strings.HasSuffix(base, "_malware.pml") {
		t.Fatalf("unexpected trace name: %q", base)
	}
	// Two captures in the same second still differ by scenario only;
	// the name must always land inside the capture dir.
	if filepath.Dir(p) != filepath.Dir(r.TimestampedPMLPath(ScenarioNetwork)) {
		t.Fatalf("trace not placed in capture dir")
	}
}

func TestStopCaptureWithoutSessionErrors(t *testing.T) {
	r := newTestRunner(t)
	if _, err := r.StopCapture(context.Background()); err == nil {
		t.Fatalf("expected error stopping idle runner")
	}
}

func TestConvert_MissingTraceIsParseError(t *testing.T) {
	r := newTestRunner(t)
	_, _, err := r.Convert(context.Background(), filepath.Join(t.TempDir(), "absent.pml"), ExportOptions{}, "")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestCaptures_EmptyCatalog(t *testing.T) {
	r := newTestRunner(t)
	captures, err := r.Captures(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(captures) != 0 {
		t.Fatalf("expected empty catalog, got %d entries", len(captures))
	}
}
