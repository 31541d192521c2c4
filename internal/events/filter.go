package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/mouimet-infinisoft/ibrain2024/internal/taskqueue"
)

// Filter wraps a compiled CEL program evaluated against lifecycle events.
// When disabled, Eval always returns true.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles expr. An empty expression yields a disabled filter.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("seq", cel.IntType),
		cel.Variable("taskId", cel.StringType),
		cel.Variable("queue", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("error", cel.StringType),
		cel.Variable("attempts", cel.IntType),
		cel.Variable("parentTaskId", cel.StringType),
		// Parsed task payload and result for field filtering
		cel.Variable("payload", cel.DynType),
		cel.Variable("result", cel.DynType),
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

// Eval evaluates the expression against one event. Evaluation errors count as
// a non-match.
func (f Filter) Eval(seq uint64, ev taskqueue.LifecycleEvent) bool {
	if !f.enabled {
		return true
	}
	var payload, result any
	_ = json.Unmarshal(ev.Payload, &payload)
	_ = json.Unmarshal(ev.Result, &result)
	out, _, err := f.prog.Eval(map[string]any{
		"seq":          int64(seq),
		"taskId":       ev.TaskID,
		"queue":        ev.Queue,
		"action":       ev.Action,
		"status":       string(ev.Status),
		"error":        ev.Error,
		"attempts":     int64(ev.Attempts),
		"parentTaskId": ev.ParentTaskID,
		"payload":      payload,
		"result":       result,
		"now_ms":       time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
