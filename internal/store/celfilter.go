package store

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rosterhq/roster/internal/submission"
)

// celFilter wraps a compiled CEL program evaluated per submission
// record during list queries. When the expression is empty, Eval
// always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("operation", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("error_message", cel.StringType),
		cel.Variable("duplicate_of", cel.StringType),
		cel.Variable("csv_row", cel.IntType),
		cel.Variable("created_ms", cel.IntType),
		cel.Variable("processed_ms", cel.IntType),
		// Candidate payload fields for field-level filtering
		cel.Variable("payload", cel.MapType(cel.StringType, cel.StringType)),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against a record.
func (f celFilter) Eval(rec *submission.Record) bool {
	if !f.enabled {
		return true
	}
	payload := rec.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":            rec.ID,
		"operation":     string(rec.Operation),
		"source":        string(rec.Source),
		"status":        string(rec.Status),
		"error_message": rec.ErrorMessage,
		"duplicate_of":  rec.DuplicateOf,
		"csv_row":       int64(rec.CSVRow),
		"created_ms":    rec.CreatedMs,
		"processed_ms":  rec.ProcessedMs,
		"payload":       payload,
		"now_ms":        time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
