package procmon

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func loadFixtureEngine(t *testing.T, events []Event) *Engine {
	t.Helper()
	path := writeCaptureCSV(t, events)
	e, err := LoadEngine(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func registryFixture() []Event {
	return []Event{
		testEvent("a.exe", "RegSetValue", `HKCU\x`, "SUCCESS", ""),
		testEvent("a.exe", "RegSetValue", `HKCU\y`, "SUCCESS", ""),
		testEvent("b.exe", "RegSetValue", `HKLM\z`, "SUCCESS", ""),
		testEvent("a.exe", "ReadFile", `C:\f`, "SUCCESS", ""),
	}
}

func TestEngine_CountsRegistryWrites(t *testing.T) {
	e := loadFixtureEngine(t, registryFixture())
	res, err := e.Query(`SELECT COUNT(*) FROM events WHERE Operation = 'RegSetValue'`)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "3" {
		t.Fatalf("expected count 3, got %+v", res.Rows)
	}
}

func TestEngine_QueriesByFilePathTableName(t *testing.T) {
	e := loadFixtureEngine(t, registryFixture())
	q := fmt.Sprintf(`SELECT COUNT(*) FROM '%s' WHERE Operation = 'RegSetValue'`, e.TableName())
	res, err := e.Query(q)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rows[0][0] != "3" {
		t.Fatalf("expected count 3 via path table name, got %+v", res.Rows)
	}
}

func TestEngine_RowCountMatchesFixture(t *testing.T) {
	e := loadFixtureEngine(t, registryFixture())
	if e.RowCount() != 4 {
		t.Fatalf("expected 4 rows loaded, got %d", e.RowCount())
	}
}

func TestValidateReadOnly_RejectsModificationStatements(t *testing.T) {
	bad := []string{
		`UPDATE events SET Path = 'x'`,
		`DELETE FROM events`,
		`INSERT INTO events VALUES ('x')`,
		`DROP TABLE events`,
		`ALTER TABLE events ADD COLUMN x TEXT`,
		`CREATE TABLE x (y TEXT)`,
		`PRAGMA table_info(events)`,
		`VACUUM`,
		`SELECT * FROM events; DROP TABLE events`,
		`SELECT * FROM events WHERE Path = 'x'; DELETE FROM events`,
		``,
	}
	for _, q := range bad {
		err := ValidateReadOnly(q)
		var ue *UnsafeQueryError
		if !errors.As(err, &ue) {
			t.Fatalf("query %q: expected UnsafeQueryError, got %v", q, err)
		}
	}
}

func TestValidateReadOnly_AcceptsReadQueries(t *testing.T) {
	good := []string{
		`SELECT * FROM events LIMIT 10`,
		`select Operation, count(*) from events group by Operation`,
		`WITH r AS (SELECT * FROM events) SELECT COUNT(*) FROM r`,
		`SELECT * FROM events WHERE Operation = 'Process Create'`,
		`SELECT * FROM events WHERE Detail LIKE '%OpenResult: Created%'`,
		`SELECT * FROM events LIMIT 5;`,
	}
	for _, q := range good {
		if err := ValidateReadOnly(q); err != nil {
			t.Fatalf("query %q rejected: %v", q, err)
		}
	}
}

func TestEngine_UnknownColumnIsQueryExecutionError(t *testing.T) {
	e := loadFixtureEngine(t, registryFixture())
	_, err := e.Query(`SELECT "No Such Column" FROM events`)
	var qe *QueryExecutionError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryExecutionError, got %v", err)
	}
	if qe.Query == "" {
		t.Fatalf("failed query not attached to error")
	}
}

func TestEngine_QuotedIdentifiersResolveAgainstSchema(t *testing.T) {
	e := loadFixtureEngine(t, registryFixture())

	// Known quoted columns and quoted aliases execute normally.
	res, err := e.Query(`SELECT "Process Name", COUNT(*) AS "n" FROM events GROUP BY "Process Name"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 processes, got %+v", res.Rows)
	}

	// An unresolvable quoted identifier must fail instead of being read
	// back as a string literal.
	_, err = e.Query(`SELECT COUNT(*) FROM events WHERE "Bogus Column" = 'x'`)
	var qe *QueryExecutionError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryExecutionError, got %v", err)
	}
	if !strings.Contains(qe.Err.Error(), "Bogus Column") {
		t.Fatalf("error does not name the column: %v", qe.Err)
	}
}

func TestEngine_SampleDistinct(t *testing.T) {
	e := loadFixtureEngine(t, registryFixture())
	vals, err := e.SampleDistinct("Operation", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 2 {
		t.Fatalf("expected 2 distinct operations, got %v", vals)
	}
}
