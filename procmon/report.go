package procmon

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

type reportSheet struct {
	name  string
	match func(*Event) bool
}

// Worksheets beyond ALL, in workbook order: per-operation slices,
// suspicious-pattern analyses, then file-type slices.
var reportSheets = []reportSheet{
	{"ProcessCreate", func(e *Event) bool { return e.Operation == "Process Create" }},
	{"LoadImage", func(e *Event) bool { return e.Operation == "Load Image" }},
	{"CreateFile", func(e *Event) bool { return e.Operation == "CreateFile" }},
	{"WriteFile", func(e *Event) bool { return e.Operation == "WriteFile" }},
	{"ReadFile", func(e *Event) bool { return e.Operation == "ReadFile" }},
	{"CloseFile", func(e *Event) bool { return e.Operation == "CloseFile" }},
	{"Registry", func(e *Event) bool { return strings.HasPrefix(e.Operation, "Reg") }},
	{"Network", func(e *Event) bool {
		return strings.HasPrefix(e.Operation, "TCP") || strings.HasPrefix(e.Operation, "UDP")
	}},
	{"explorerInjection", func(e *Event) bool {
		if e.Operation != "Load Image" || !strings.EqualFold(e.ProcessName, "Explorer.exe") {
			return false
		}
		lp := strings.ToLower(e.Path)
		return !strings.HasPrefix(lp, `c:\windows\`) && !strings.HasPrefix(lp, `c:\program files`)
	}},
	{"HTTPRegSetValue", func(e *Event) bool {
		if e.Operation != "RegSetValue" {
			return false
		}
		ld := strings.ToLower(e.Detail)
		return strings.Contains(ld, "http://") || strings.Contains(ld, "https://")
	}},
	{"firewallActions", func(e *Event) bool {
		lp := strings.ToLower(e.Path)
		return strings.Contains(lp, "firewallrules") || strings.Contains(lp, "firewallpolicy")
	}},
	{"RunKeys", func(e *Event) bool {
		if !strings.HasPrefix(e.Operation, "Reg") {
			return false
		}
		lp := strings.ToLower(e.Path)
		return strings.Contains(lp, `\run`) || strings.Contains(lp, `\runonce`)
	}},
	{"txt", pathExtSheet(".txt")},
	{"ps1", pathExtSheet(".ps1")},
	{"lnk", pathExtSheet(".lnk")},
	{"db", pathExtSheet(".db")},
	{"exes_dlls", func(e *Event) bool {
		lp := strings.ToLower(e.Path)
		return strings.HasSuffix(lp, ".exe") || strings.HasSuffix(lp, ".dll")
	}},
}

func pathExtSheet(ext string) func(*Event) bool {
	return func(e *Event) bool {
		return strings.HasSuffix(strings.ToLower(e.Path), ext)
	}
}

// WriteReport renders the tabular file as a multi-worksheet Excel
// workbook: the full event log on ALL plus one sheet per operation
// slice and suspicious-pattern analysis. outPath "" defaults to the
// tabular path with an .xlsx extension. Returns the workbook path.
func WriteReport(csvPath, outPath string) (string, error) {
	if outPath == "" {
		outPath = strings.TrimSuffix(csvPath, ".csv") + ".xlsx"
	}
	r, err := OpenCSV(csvPath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "ALL"); err != nil {
		return "", err
	}
	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}

	rows := map[string]int{"ALL": 1}
	if err := f.SetSheetRow("ALL", "A1", &header); err != nil {
		return "", err
	}
	for _, sheet := range reportSheets {
		if _, err := f.NewSheet(sheet.name); err != nil {
			return "", err
		}
		if err := f.SetSheetRow(sheet.name, "A1", &header); err != nil {
			return "", err
		}
		rows[sheet.name] = 1
	}

	appendRow := func(sheet string, row []any) error {
		rows[sheet]++
		cell, err := excelize.CoordinatesToCellName(1, rows[sheet])
		if err != nil {
			return err
		}
		return f.SetSheetRow(sheet, cell, &row)
	}

	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		strs := ev.Row()
		row := make([]any, len(strs))
		for i, v := range strs {
			row[i] = v
		}
		if err := appendRow("ALL", row); err != nil {
			return "", err
		}
		for _, sheet := range reportSheets {
			if !sheet.match(&ev) {
				continue
			}
			if err := appendRow(sheet.name, row); err != nil {
				return "", err
			}
		}
	}

	if err := f.SaveAs(outPath); err != nil {
		return "", fmt.Errorf("save report %s: %w", outPath, err)
	}
	return outPath, nil
}
