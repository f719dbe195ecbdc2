package procmon

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Event categories. Operations that match none of these are counted in
// the total but kept out of every bucket; dropping uncategorized noise
// is intentional.
const (
	CategoryRegistry  = "registry"
	CategoryFiles     = "files"
	CategoryNetwork   = "network"
	CategoryProcesses = "processes"
	CategoryDLLs      = "dlls"
)

// CategoryNames lists the buckets in display order.
var CategoryNames = []string{
	CategoryRegistry,
	CategoryFiles,
	CategoryNetwork,
	CategoryProcesses,
	CategoryDLLs,
}

var fileOps = map[string]bool{
	"CreateFile":                    true,
	"ReadFile":                      true,
	"WriteFile":                     true,
	"SetInformationFile":            true,
	"SetDispositionInformationFile": true,
	"DeleteFile":                    true,
}

// Categorize returns the bucket for one event, or "" when it belongs to
// none.
func Categorize(ev *Event) string {
	op := ev.Operation
	switch {
	case strings.HasPrefix(op, "Reg"):
		return CategoryRegistry
	case op == "CreateFile":
		if strings.Contains(ev.Result, "SUCCESS") {
			return CategoryFiles
		}
		return ""
	case fileOps[op]:
		return CategoryFiles
	case strings.Contains(op, "TCP") || strings.Contains(op, "UDP"),
		strings.Contains(ev.Path, "TCP") || strings.Contains(ev.Path, "UDP"):
		return CategoryNetwork
	case op == "Process Create":
		return CategoryProcesses
	case op == "Load Image":
		if strings.Contains(strings.ToLower(ev.Path), ".dll") {
			return CategoryDLLs
		}
		return ""
	default:
		return ""
	}
}

type ProcessCount struct {
	Process string
	Count   int64
}

// Summary is the output of one categorization pass over a tabular file.
type Summary struct {
	CSVPath       string
	ProcessFilter string
	TotalEvents   int64
	Counts        map[string]int64
	// OpCounts breaks categorized events down by operation name.
	OpCounts map[string]int64

	// Persistence holds rows whose registry path touches an autorun
	// location or whose file path lands in the scheduled tasks folder.
	Persistence []Event
	// ExeWrites holds successful file creations of new executable files.
	ExeWrites []Event
	// TopProcesses is sorted by descending event count; processes with
	// equal counts keep first-seen order.
	TopProcesses []ProcessCount
}

const topProcessLimit = 15

// Summarize categorizes every event in the tabular file at path,
// optionally restricted to process names containing procFilter.
func Summarize(path, procFilter string) (*Summary, error) {
	r, err := OpenCSV(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	s := &Summary{
		CSVPath:       path,
		ProcessFilter: procFilter,
		Counts:        make(map[string]int64, len(CategoryNames)),
		OpCounts:      make(map[string]int64),
	}
	procCounts := make(map[string]int64)
	var procOrder []string
	lowerFilter := strings.ToLower(procFilter)

	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if lowerFilter != "" && !strings.Contains(strings.ToLower(ev.ProcessName), lowerFilter) {
			continue
		}
		s.TotalEvents++
		if _, seen := procCounts[ev.ProcessName]; !seen {
			procOrder = append(procOrder, ev.ProcessName)
		}
		procCounts[ev.ProcessName]++

		cat := Categorize(&ev)
		if cat != "" {
			s.Counts[cat]++
			s.OpCounts[ev.Operation]++
		}

		switch cat {
		case CategoryRegistry:
			if IsAutorunPath(ev.Path) {
				s.Persistence = append(s.Persistence, ev)
			}
		case CategoryFiles:
			if IsTaskFolderPath(ev.Path) {
				s.Persistence = append(s.Persistence, ev)
			}
			if ev.Operation == "CreateFile" &&
				strings.Contains(ev.Result, "SUCCESS") &&
				IsExecutablePath(ev.Path) &&
				IsNewFileDetail(ev.Detail) {
				s.ExeWrites = append(s.ExeWrites, ev)
			}
		}
	}

	top := make([]ProcessCount, 0, len(procOrder))
	for _, p := range procOrder {
		top = append(top, ProcessCount{Process: p, Count: procCounts[p]})
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > topProcessLimit {
		top = top[:topProcessLimit]
	}
	s.TopProcesses = top
	return s, nil
}

// Render formats the summary for terminal output.
func (s *Summary) Render() string {
	var b strings.Builder
	line := strings.Repeat("=", 70)
	fmt.Fprintf(&b, "%s\nCAPTURE SUMMARY\n%s\n", line, line)
	fmt.Fprintf(&b, "File: %s\n", s.CSVPath)
	fmt.Fprintf(&b, "Total Events: %d\n", s.TotalEvents)
	if s.ProcessFilter != "" {
		fmt.Fprintf(&b, "Process Filter: %s\n", s.ProcessFilter)
	}

	b.WriteString("\n--- Event Counts by Category ---\n")
	for _, cat := range CategoryNames {
		if n := s.Counts[cat]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", cat, n)
		}
	}

	// Finer breakdown of the modification operations analysts look at
	// first.
	var breakdown []string
	for _, op := range []string{
		"RegCreateKey", "RegSetValue", "RegDeleteKey", "RegDeleteValue",
		"CreateFile", "WriteFile", "DeleteFile", "Process Create", "Load Image",
	} {
		if n := s.OpCounts[op]; n > 0 {
			breakdown = append(breakdown, fmt.Sprintf("  %s: %d", op, n))
		}
	}
	if len(breakdown) > 0 {
		b.WriteString("\n--- Operation Breakdown ---\n")
		b.WriteString(strings.Join(breakdown, "\n"))
		b.WriteByte('\n')
	}

	b.WriteString("\n--- Top Processes ---\n")
	for i, pc := range s.TopProcesses {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&b, "  %s: %d events\n", pc.Process, pc.Count)
	}

	if len(s.Persistence) > 0 {
		fmt.Fprintf(&b, "\n[!] Potential Persistence (%d operations):\n", len(s.Persistence))
		seen := map[string]bool{}
		for _, ev := range s.Persistence {
			if seen[ev.Path] {
				continue
			}
			seen[ev.Path] = true
			fmt.Fprintf(&b, "    %s: %s\n", ev.Operation, truncate(ev.Path, 70))
			if ev.Detail != "" {
				fmt.Fprintf(&b, "      -> %s\n", truncate(ev.Detail, 60))
			}
			if len(seen) >= 10 {
				break
			}
		}
	}

	if len(s.ExeWrites) > 0 {
		fmt.Fprintf(&b, "\n[!] Executable Files Written (%d):\n", len(s.ExeWrites))
		seen := map[string]bool{}
		for _, ev := range s.ExeWrites {
			if seen[ev.Path] {
				continue
			}
			seen[ev.Path] = true
			fmt.Fprintf(&b, "    %s\n", truncate(ev.Path, 70))
			if len(seen) >= 10 {
				break
			}
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
