package procmon

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Extensions ArchiveCapture will move. Anything else is refused so a
// mistyped archive path can never sweep unrelated files.
var archivableExtensions = map[string]bool{
	".pml":  true,
	".csv":  true,
	".xlsx": true,
}

// ArchiveCapture moves a finished trace, tabular, or report file into a
// monthly subfolder of archiveDir, creating it if needed. A name
// collision gets a nanosecond suffix rather than overwriting the
// earlier capture's artifact.
func ArchiveCapture(srcPath string, archiveDir string) (string, error) {
	if strings.TrimSpace(archiveDir) == "" {
		return "", fmt.Errorf("archiveDir is empty")
	}
	ext := strings.ToLower(filepath.Ext(srcPath))
	if !archivableExtensions[ext] {
		return "", fmt.Errorf("refusing to archive %s: not a capture artifact", srcPath)
	}
	monthDir := filepath.Join(archiveDir, time.Now().Format("200601"))
	if err := os.MkdirAll(monthDir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(srcPath)
	dstPath := filepath.Join(monthDir, base)
	if _, err := os.Stat(dstPath); err == nil {
		name := strings.TrimSuffix(base, filepath.Ext(base))
		dstPath = filepath.Join(monthDir, fmt.Sprintf("%s-%d%s", name, time.Now().UnixNano(), filepath.Ext(base)))
	}

	if err := os.Rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}

	// Rename fails across filesystems; fall back to copy + remove.
	in, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dstPath)
		return "", copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return "", closeErr
	}
	if err := os.Remove(srcPath); err != nil {
		return "", err
	}
	return dstPath, nil
}
