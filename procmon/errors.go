package procmon

import (
	"fmt"
	"strings"
)

// ParseError reports a trace or tabular file that could not be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExportError reports a failed conversion from trace to tabular form.
type ExportError struct {
	Source string
	Dest   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s -> %s: %v", e.Source, e.Dest, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// SchemaMismatchError reports a tabular file whose header is missing
// required columns.
type SchemaMismatchError struct {
	Path    string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s: missing columns %s",
		e.Path, strings.Join(e.Missing, ", "))
}

// UnsafeQueryError reports a generated or user-supplied statement that was
// rejected before execution because it is not a single read-only query.
type UnsafeQueryError struct {
	Query  string
	Reason string
}

func (e *UnsafeQueryError) Error() string {
	return fmt.Sprintf("unsafe query rejected: %s", e.Reason)
}

// QueryExecutionError wraps an engine failure while running a query, with
// the statement attached so it can be surfaced to the user verbatim.
type QueryExecutionError struct {
	Query string
	Err   error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

// ModelRequestError reports a failed call to the hosted model.
type ModelRequestError struct {
	Status int
	Body   string
	Err    error
}

func (e *ModelRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model request: %v", e.Err)
	}
	return fmt.Sprintf("model request: status %d: %s", e.Status, e.Body)
}

func (e *ModelRequestError) Unwrap() error { return e.Err }
