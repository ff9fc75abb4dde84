// Package recordfilter evaluates CEL expressions against log records before
// they enter the batching pipeline. An empty expression keeps everything.
package recordfilter

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/relay/pkg/report"
)

// Filter wraps a compiled CEL program. The zero value keeps all records.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// New compiles expr. An empty (or whitespace-only) expression yields a
// disabled filter that keeps every record.
func New(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("level", cel.IntType),
		cel.Variable("level_name", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("item_id", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("has_attachment", cel.BoolType),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Keep reports whether rec should enter the pipeline. When disabled, Keep
// always returns true. An evaluation error keeps the record; losing logs
// over a bad expression is worse than over-reporting.
func (f Filter) Keep(rec report.LogRecord) bool {
	if !f.enabled {
		return true
	}
	itemID := ""
	if rec.Item != nil {
		itemID, _ = rec.Item.TryUUID()
	}
	out, _, err := f.prog.Eval(map[string]any{
		"level":          int64(rec.Level),
		"level_name":     rec.Level.String(),
		"message":        rec.Message,
		"item_id":        itemID,
		"size":           int64(rec.SizeEstimate()),
		"has_attachment": rec.Attachment != nil,
		"now_ms":         time.Now().UnixMilli(),
	})
	if err != nil {
		return true
	}
	b, ok := out.Value().(bool)
	if !ok {
		return true
	}
	return b
}
