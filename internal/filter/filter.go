// Package filter compiles CEL skip expressions evaluated against received
// work items before they are processed. A message whose expression is true
// is acknowledged without running its processor.
//
// Variables:
//
//	type            string  work item type tag
//	id              string  work item id
//	dequeue_count   int     deliveries including the current one
//	enqueued_at_ms  int     enqueue time (unix ms)
//	now_ms          int     current time (unix ms)
//	payload         dyn     the work item's JSON payload
//
// Example: type == "BuildCoherencyInfo" && now_ms - enqueued_at_ms > 3600000
package filter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/pcs/internal/queue"
	"github.com/rzbill/pcs/internal/workitem"
)

// CEL is a compiled skip expression. It implements workitem.SkipFilter.
type CEL struct {
	expr string
	prog cel.Program
	now  func() time.Time
}

// Compile parses and type-checks expr. An empty expression yields nil, which
// callers treat as "skip nothing".
func Compile(expr string) (*CEL, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("id", cel.StringType),
		cel.Variable("dequeue_count", cel.IntType),
		cel.Variable("enqueued_at_ms", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
		cel.Variable("payload", cel.DynType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("filter: compile %q: %w", expr, iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter: %q must evaluate to bool, not %s", expr, out)
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &CEL{expr: expr, prog: prog, now: time.Now}, nil
}

// String returns the source expression.
func (f *CEL) String() string { return f.expr }

// Skip implements workitem.SkipFilter.
func (f *CEL) Skip(item workitem.WorkItem, msg *queue.Message) (bool, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return false, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false, err
	}
	var dq int64
	if msg != nil {
		dq = msg.DequeueCount
	}
	out, _, err := f.prog.Eval(map[string]any{
		"type":           item.Type(),
		"id":             item.ID(),
		"dequeue_count":  dq,
		"enqueued_at_ms": item.EnqueuedAt().UnixMilli(),
		"now_ms":         f.now().UnixMilli(),
		"payload":        payload,
	})
	if err != nil {
		return false, fmt.Errorf("filter: eval %q: %w", f.expr, err)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}
