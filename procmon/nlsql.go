package procmon

import (
	"context"
	"fmt"
	"strings"
)

// Columns whose distinct values anchor generated queries to real data.
var keyColumns = []string{"Operation", "Process Name", "Result", "Category", "Event Class"}

const (
	distinctSampleLimit = 20
	sampleRowLimit      = 5
	translateMaxTokens  = 500
)

// SchemaSnapshot is what the model sees about a loaded capture: column
// names, a few sample rows, and distinct values of the key columns.
type SchemaSnapshot struct {
	CSVPath  string
	Columns  []string
	Samples  [][]string
	Distinct map[string][]string
}

// SnapshotSchema discovers the schema of a loaded engine.
func SnapshotSchema(e *Engine) (*SchemaSnapshot, error) {
	res, err := e.Query(fmt.Sprintf("SELECT * FROM events LIMIT %d", sampleRowLimit))
	if err != nil {
		return nil, err
	}
	snap := &SchemaSnapshot{
		CSVPath:  e.TableName(),
		Columns:  res.Columns,
		Samples:  res.Rows,
		Distinct: make(map[string][]string),
	}
	present := make(map[string]int, len(res.Columns))
	for i, c := range res.Columns {
		present[c] = i
	}
	for _, col := range keyColumns {
		if _, ok := present[col]; !ok {
			continue
		}
		vals, err := e.SampleDistinct(col, distinctSampleLimit)
		if err != nil {
			return nil, err
		}
		if len(vals) > 0 {
			snap.Distinct[col] = vals
		}
	}
	return snap, nil
}

// Context renders the snapshot as the schema block of the system prompt.
func (s *SchemaSnapshot) Context() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CSV FILE: '%s'\n\n", s.CSVPath)
	fmt.Fprintf(&b, "COLUMNS (%d total):\n", len(s.Columns))
	quoted := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		quoted[i] = `"` + c + `"`
	}
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString("\n\nKEY COLUMN VALUES:\n")
	for _, col := range keyColumns {
		vals, ok := s.Distinct[col]
		if !ok {
			continue
		}
		if len(vals) > 15 {
			vals = vals[:15]
		}
		quotedVals := make([]string, len(vals))
		for i, v := range vals {
			quotedVals[i] = fmt.Sprintf("%q", v)
		}
		fmt.Fprintf(&b, "  %s: %s\n", col, strings.Join(quotedVals, ", "))
	}

	colIdx := make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		colIdx[c] = i
	}
	b.WriteString("\nSAMPLE DATA:\n")
	for i, row := range s.Samples {
		if i >= 3 {
			break
		}
		var parts []string
		for _, col := range []string{"Process Name", "Operation", "Path", "Result"} {
			j, ok := colIdx[col]
			if !ok || j >= len(row) {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%q", col, truncate(row[j], 50)))
		}
		fmt.Fprintf(&b, "Row %d: %s\n", i+1, strings.Join(parts, ", "))
	}
	return b.String()
}

// SystemPrompt is the full translation instruction block.
func (s *SchemaSnapshot) SystemPrompt() string {
	return fmt.Sprintf(`You are a SQL expert that translates natural language questions into SQLite SQL queries for Procmon (Windows Process Monitor) data analysis.

%s
RULES:
1. ALWAYS reference the table by its exact path: '%s'
2. Column names with spaces MUST be double-quoted: "Process Name", "Command Line", "Time of Day"
3. LIKE is case-insensitive for ASCII text. Use LIKE with %% wildcards for pattern matching.
4. Use LIMIT to restrict results (default 100, but use 500+ for "all files" or comprehensive queries).
5. When searching for a program name, also check for installer names (e.g., "CCleaner" -> also check "ccsetup", "ccleaner")

COMMON PROCMON PATTERNS:
- Files CREATED: To find files a process created, look for DISTINCT Paths where Operation = 'CreateFile' AND Result = 'SUCCESS' AND Detail LIKE '%%OpenResult: Created%%'
- Files WRITTEN: Operation = 'WriteFile' shows data being written to files
- Registry persistence: Path contains 'Run', 'RunOnce', 'Services'
- Process creation: Operation = 'Process Create'
- Executable locations: Path LIKE '%%Program Files%%' OR Path LIKE '%%.exe'
- Network: Path contains 'TCP' or 'UDP'
- DLL loading: Operation = 'Load Image'

RESPOND WITH ONLY THE SQL QUERY. No explanation, no markdown, just the raw SQL.
If the question cannot be answered with the available data, respond with: ERROR: <reason>`, s.Context(), s.CSVPath)
}

// Translator turns questions into executable queries against one engine.
type Translator struct {
	engine *Engine
	snap   *SchemaSnapshot
	client ModelClient
	system string
}

func NewTranslator(engine *Engine, client ModelClient) (*Translator, error) {
	snap, err := SnapshotSchema(engine)
	if err != nil {
		return nil, err
	}
	return &Translator{
		engine: engine,
		snap:   snap,
		client: client,
		system: snap.SystemPrompt(),
	}, nil
}

// Translate asks the model for one query. Single attempt, no retry.
func (t *Translator) Translate(ctx context.Context, question string) (string, error) {
	resp, err := t.client.Complete(ctx, t.system, []Turn{{Role: "user", Content: question}}, translateMaxTokens)
	if err != nil {
		return "", err
	}
	return ExtractSQL(resp)
}

// Ask translates the question, executes the generated query, and returns
// both so the caller can show the query alongside its rows.
func (t *Translator) Ask(ctx context.Context, question string) (string, *QueryResult, error) {
	query, err := t.Translate(ctx, question)
	if err != nil {
		return "", nil, err
	}
	res, err := t.engine.Query(query)
	if err != nil {
		return query, nil, err
	}
	return query, res, nil
}
