package procmon

import (
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Engine answers SQL queries over one tabular capture file. The file is
// loaded into an in-memory SQLite database as a table named by the
// file's absolute forward-slash path, so generated queries of the form
// FROM '<path>' run unchanged; an "events" view aliases the same table
// for hand-written queries.
type Engine struct {
	db    *gorm.DB
	csv   string
	table string
	cols  map[string]bool
	rows  int64
}

// QueryResult is one executed query's output, columns in engine order.
type QueryResult struct {
	Columns []string
	Rows    [][]string
}

// LoadEngine reads the tabular file at csvPath into a fresh in-memory
// database.
func LoadEngine(csvPath string) (*Engine, error) {
	abs, err := filepath.Abs(csvPath)
	if err != nil {
		return nil, &ParseError{Path: csvPath, Err: err}
	}
	table := filepath.ToSlash(abs)

	r, err := OpenCSV(csvPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	e := &Engine{db: db, csv: csvPath, table: table, cols: make(map[string]bool)}

	cols := r.Header()
	var defs []string
	for _, c := range cols {
		e.cols[c] = true
		defs = append(defs, quoteIdent(c)+" TEXT")
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if err := db.Exec(create).Error; err != nil {
		e.Close()
		return nil, err
	}

	colIdx := make([]int, len(cols))
	for i, c := range cols {
		for j, name := range Columns {
			if name == c {
				colIdx[i] = j
			}
		}
	}
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	insertPrefix := fmt.Sprintf("INSERT INTO %s VALUES ", quoteIdent(table))

	// Batched inserts keep bind-variable counts well under SQLite's
	// limit.
	const batchRows = 30
	err = db.Transaction(func(tx *gorm.DB) error {
		var (
			values []string
			args   []any
		)
		flush := func() error {
			if len(values) == 0 {
				return nil
			}
			if err := tx.Exec(insertPrefix+strings.Join(values, ","), args...).Error; err != nil {
				return err
			}
			values = values[:0]
			args = args[:0]
			return nil
		}
		for {
			ev, err := r.Next()
			if err == io.EOF {
				return flush()
			}
			if err != nil {
				return err
			}
			row := ev.Row()
			values = append(values, placeholders)
			for _, i := range colIdx {
				args = append(args, row[i])
			}
			e.rows++
			if len(values) >= batchRows {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	})
	if err != nil {
		e.Close()
		return nil, err
	}

	view := fmt.Sprintf("CREATE VIEW events AS SELECT * FROM %s", quoteIdent(table))
	if err := db.Exec(view).Error; err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// CSVPath returns the tabular file this engine was loaded from.
func (e *Engine) CSVPath() string { return e.csv }

// TableName returns the name generated queries should reference, the
// file's absolute forward-slash path.
func (e *Engine) TableName() string { return e.table }

// RowCount returns the number of loaded data rows.
func (e *Engine) RowCount() int64 { return e.rows }

func (e *Engine) Close() error {
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var modificationKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "create",
	"replace", "truncate", "attach", "detach", "pragma",
	"vacuum", "reindex", "grant", "revoke",
}

var (
	stringLiteralRe = regexp.MustCompile(`'(?:[^']|'')*'`)
	quotedIdentRe   = regexp.MustCompile(`"(?:[^"]|"")*"`)
	wordRe          = regexp.MustCompile(`[a-zA-Z_]+`)
)

// ValidateReadOnly rejects any statement that is not a single read query.
// String literals are blanked before the keyword scan so a predicate like
// Operation = 'Process Create' is not mistaken for DDL.
func ValidateReadOnly(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return &UnsafeQueryError{Query: query, Reason: "empty statement"}
	}
	stripped := stringLiteralRe.ReplaceAllString(q, "''")
	if i := strings.Index(stripped, ";"); i >= 0 && strings.TrimSpace(stripped[i+1:]) != "" {
		return &UnsafeQueryError{Query: query, Reason: "multiple statements"}
	}
	first := strings.ToLower(wordRe.FindString(stripped))
	if first != "select" && first != "with" {
		return &UnsafeQueryError{Query: query, Reason: fmt.Sprintf("statement must start with SELECT or WITH, got %q", first)}
	}
	for _, w := range wordRe.FindAllString(strings.ToLower(stripped), -1) {
		for _, kw := range modificationKeywords {
			if w == kw {
				return &UnsafeQueryError{Query: query, Reason: "modification keyword " + strings.ToUpper(kw)}
			}
		}
	}
	return nil
}

// checkQuotedIdents rejects double-quoted identifiers that resolve to
// nothing in the loaded schema. SQLite falls back to treating such an
// identifier as a string literal, so SELECT "Bogus Column" would
// otherwise succeed and return the literal text instead of failing.
func (e *Engine) checkQuotedIdents(query string) error {
	stripped := stringLiteralRe.ReplaceAllString(query, "''")
	for _, loc := range quotedIdentRe.FindAllStringIndex(stripped, -1) {
		name := strings.ReplaceAll(stripped[loc[0]+1:loc[1]-1], `""`, `"`)
		if e.cols[name] || name == "events" || name == e.table {
			continue
		}
		// A quoted alias after AS introduces a new name; let it through.
		if before := strings.Fields(stripped[:loc[0]]); len(before) > 0 &&
			strings.EqualFold(before[len(before)-1], "as") {
			continue
		}
		return &QueryExecutionError{Query: query, Err: fmt.Errorf("no such column: %s", name)}
	}
	return nil
}

// Query validates and executes one read-only statement, returning all
// result rows as strings.
func (e *Engine) Query(query string) (*QueryResult, error) {
	if err := ValidateReadOnly(query); err != nil {
		return nil, err
	}
	if err := e.checkQuotedIdents(query); err != nil {
		return nil, err
	}
	rows, err := e.db.Raw(query).Rows()
	if err != nil {
		return nil, &QueryExecutionError{Query: query, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryExecutionError{Query: query, Err: err}
	}
	res := &QueryResult{Columns: cols}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryExecutionError{Query: query, Err: err}
		}
		rec := make([]string, len(cols))
		for i, v := range raw {
			switch t := v.(type) {
			case nil:
				rec[i] = ""
			case []byte:
				rec[i] = string(t)
			default:
				rec[i] = fmt.Sprint(t)
			}
		}
		res.Rows = append(res.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryExecutionError{Query: query, Err: err}
	}
	return res, nil
}

// SampleDistinct returns up to n distinct non-empty values of one
// canonical column, used to ground generated queries.
func (e *Engine) SampleDistinct(column string, n int) ([]string, error) {
	q := fmt.Sprintf("SELECT DISTINCT %s FROM events WHERE %s <> '' LIMIT %d",
		quoteIdent(column), quoteIdent(column), n)
	rows, err := e.db.Raw(q).Rows()
	if err != nil {
		return nil, &QueryExecutionError{Query: q, Err: err}
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, &QueryExecutionError{Query: q, Err: err}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
