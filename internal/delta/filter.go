package delta

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// filter wraps a compiled CEL program evaluated per streamed delta. When
// disabled, Eval always returns true.
type filter struct {
	prog    cel.Program
	enabled bool
}

func newFilter(expr string) (filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("object", cel.StringType),
		cel.Variable("event", cel.StringType),
		cel.Variable("id", cel.StringType),
		// Reconstructed object state (map/list/values) for field filtering
		cel.Variable("attributes", cel.DynType),
	)
	if err != nil {
		return filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return filter{}, iss.Err()
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return filter{}, iss.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return filter{}, err
	}
	return filter{prog: prog, enabled: true}, nil
}

func (f filter) Eval(d Delta) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"object":     d.Object,
		"event":      d.Event,
		"id":         d.ID,
		"attributes": d.Attributes,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
