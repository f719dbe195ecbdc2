package procmon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

type RunnerConfig struct {
	// ProcmonPath is the Process Monitor executable.
	ProcmonPath string
	// CaptureDir receives trace and tabular files.
	CaptureDir string
	// Legacy single DB path. If DBFolder is set, DBPath is ignored.
	DBPath string
	// Monthly rolling catalog settings (recommended).
	DBFolder string
	DBPrefix string
	// ArchiveDir, when set, receives trace files after conversion.
	ArchiveDir string
	Debug      bool
}

// CaptureSession is one running Procmon instance writing a trace file.
type CaptureSession struct {
	PMLPath   string
	Scenario  Scenario
	StartedAt time.Time
	cmd       *exec.Cmd
}

// Runner owns the capture lifecycle: starting and stopping the
// monitoring tool, converting traces to tabular form, and recording
// each conversion in the catalog DB.
type Runner struct {
	cfg     RunnerConfig
	db      *gorm.DB
	dbKey   string
	session *CaptureSession
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if strings.TrimSpace(cfg.ProcmonPath) == "" {
		return nil, fmt.Errorf("ProcmonPath is required")
	}
	if strings.TrimSpace(cfg.CaptureDir) == "" {
		return nil, fmt.Errorf("CaptureDir is required")
	}
	if strings.TrimSpace(cfg.DBFolder) == "" && strings.TrimSpace(cfg.DBPath) == "" {
		return nil, fmt.Errorf("DBPath or DBFolder is required")
	}
	if err := os.MkdirAll(cfg.CaptureDir, 0o755); err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg}
	if err := r.ensureDBForNow(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runner) debugf(format string, args ...any) {
	if r == nil || !r.cfg.Debug {
		return
	}
	log.Printf(format, args...)
}

func (r *Runner) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	r.db = nil
	r.dbKey = ""
	return err
}

func (r *Runner) ensureDBForNow() error {
	if strings.TrimSpace(r.cfg.DBFolder) == "" {
		if r.db != nil {
			return nil
		}
		db, err := OpenDB(r.cfg.DBPath)
		if err != nil {
			return err
		}
		r.db = db
		r.dbKey = "static"
		return nil
	}

	now := time.Now()
	key := fmt.Sprintf("%04d%02d", now.Year(), int(now.Month()))
	if r.db != nil && r.dbKey == key {
		return nil
	}
	// switch DB per natural month
	_ = r.Close()
	if err := os.MkdirAll(r.cfg.DBFolder, 0o755); err != nil {
		return err
	}
	dbPath := rollingCatalogPath(r.cfg.DBFolder, r.cfg.DBPrefix, now)
	db, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	r.db = db
	r.dbKey = key
	return nil
}

// TimestampedPMLPath names a fresh trace file so repeated captures never
// collide.
func (r *Runner) TimestampedPMLPath(scenario Scenario) string {
	ts := time.Now().Format("20060102_150405")
	name := fmt.Sprintf("events_%s_%s.pml", ts, scenario)
	return filepath.Join(r.cfg.CaptureDir, name)
}

// Session returns the running capture, or nil.
func (r *Runner) Session() *CaptureSession { return r.session }

// StartCapture launches Procmon writing to a timestamped trace file.
// runtimeSeconds > 0 makes Procmon stop on its own after that long;
// otherwise the capture runs until StopCapture.
func (r *Runner) StartCapture(scenario Scenario, runtimeSeconds int) (*CaptureSession, error) {
	if r.session != nil {
		return nil, fmt.Errorf("capture already running (trace %s)", r.session.PMLPath)
	}
	pmlPath := r.TimestampedPMLPath(scenario)
	args := []string{
		"/BackingFile", pmlPath,
		"/Quiet",
		"/AcceptEula",
	}
	if runtimeSeconds > 0 {
		args = append(args, "/Runtime", strconv.Itoa(runtimeSeconds))
	}
	cmd := exec.Command(r.cfg.ProcmonPath, args...)
	r.debugf("start capture: %s %s", r.cfg.ProcmonPath, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.cfg.ProcmonPath, err)
	}
	r.session = &CaptureSession{
		PMLPath:   pmlPath,
		Scenario:  scenario,
		StartedAt: time.Now(),
		cmd:       cmd,
	}
	return r.session, nil
}

// StopCapture terminates the running Procmon instance and waits for it
// to flush and close the trace file. The trace is not readable before
// this returns.
func (r *Runner) StopCapture(ctx context.Context) (string, error) {
	if r.session == nil {
		return "", fmt.Errorf("no capture running")
	}
	term := exec.CommandContext(ctx, r.cfg.ProcmonPath, "/Terminate")
	if err := term.Run(); err != nil {
		return "", fmt.Errorf("terminate %s: %w", r.cfg.ProcmonPath, err)
	}
	if err := r.session.cmd.Wait(); err != nil {
		// Procmon exits nonzero after /Terminate on some versions; the
		// trace is still valid if the file exists and is non-empty.
		r.debugf("capture process exit: %v", err)
	}
	pmlPath := r.session.PMLPath
	r.session = nil
	if info, err := os.Stat(pmlPath); err != nil || info.Size() == 0 {
		return "", &ParseError{Path: pmlPath, Err: fmt.Errorf("trace file missing or empty after stop")}
	}
	r.debugf("capture stopped: trace=%s", pmlPath)
	return pmlPath, nil
}

// Convert turns a trace file into a canonical tabular file and records
// it in the catalog. The raw export is produced by the monitoring tool
// itself (/OpenLog + /SaveAs), then rewritten to the canonical column
// set with the scenario and process filters applied. outPath "" defaults
// to the trace path with a .csv extension.
func (r *Runner) Convert(ctx context.Context, pmlPath string, opts ExportOptions, outPath string) (string, int64, error) {
	info, err := os.Stat(pmlPath)
	if err != nil {
		return "", 0, &ParseError{Path: pmlPath, Err: err}
	}
	if info.Size() == 0 {
		return "", 0, &ParseError{Path: pmlPath, Err: fmt.Errorf("trace file is empty")}
	}
	if outPath == "" {
		outPath = strings.TrimSuffix(pmlPath, filepath.Ext(pmlPath)) + ".csv"
	}

	rawCSV := outPath + ".raw"
	export := exec.CommandContext(ctx, r.cfg.ProcmonPath,
		"/OpenLog", pmlPath,
		"/SaveAs", rawCSV,
		"/Quiet",
		"/AcceptEula",
	)
	r.debugf("convert: %s -> %s", pmlPath, rawCSV)
	if err := export.Run(); err != nil {
		return "", 0, &ExportError{Source: pmlPath, Dest: rawCSV, Err: err}
	}
	defer os.Remove(rawCSV)

	rows, err := ExportCSV(rawCSV, outPath, opts)
	if err != nil {
		return "", 0, err
	}

	sha, size, err := hashFile(outPath)
	if err != nil {
		return "", 0, &ExportError{Source: pmlPath, Dest: outPath, Err: err}
	}
	if err := r.ensureDBForNow(); err != nil {
		return "", 0, err
	}
	rec := Capture{
		CSVPath:     outPath,
		SHA256:      sha,
		SourcePML:   pmlPath,
		Scenario:    string(opts.Scenario),
		ProcFilter:  opts.ProcessName,
		RowCount:    rows,
		SizeBytes:   size,
		ConvertedAt: time.Now().UTC(),
	}
	if err := r.db.Create(&rec).Error; err != nil {
		return "", 0, err
	}
	r.debugf("convert done: csv=%s rows=%d sha=%s", outPath, rows, sha)

	if strings.TrimSpace(r.cfg.ArchiveDir) != "" {
		if dst, mvErr := ArchiveCapture(pmlPath, r.cfg.ArchiveDir); mvErr != nil {
			r.debugf("archive trace failed path=%q err=%v", pmlPath, mvErr)
		} else {
			r.debugf("archived trace %s -> %s", pmlPath, dst)
		}
	}
	return outPath, rows, nil
}

// Captures lists catalog entries, newest first.
func (r *Runner) Captures(limit int) ([]Capture, error) {
	if err := r.ensureDBForNow(); err != nil {
		return nil, err
	}
	q := r.db.Order("converted_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Capture
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CapturesFrom lists entries out of a specific catalog file, newest
// first. Lets an analyst inspect a prior month's rolling catalog without
// repointing the runner.
func CapturesFrom(dbPath string, limit int) ([]Capture, error) {
	db, err := OpenQueryDB(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	q := db.Order("converted_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Capture
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
