package filter

import (
	"testing"
	"time"

	"github.com/rzbill/pcs/internal/queue"
	"github.com/rzbill/pcs/internal/workitem"
)

type buildItem struct {
	workitem.Base
	Repository string `json:"repository"`
	BuildID    int    `json:"buildId"`
}

func (*buildItem) Type() string { return "BuildCoherencyInfo" }

func TestEmptyExpressionCompilesToNil(t *testing.T) {
	f, err := Compile("   ")
	if err != nil || f != nil {
		t.Fatalf("got %v %v", f, err)
	}
}

func TestCompileRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{"type ==", "dequeue_count + 1", "unknown_var == 1"} {
		if _, err := Compile(expr); err == nil {
			t.Fatalf("%q compiled", expr)
		}
	}
}

func TestSkip(t *testing.T) {
	item := &buildItem{Repository: "dotnet/runtime", BuildID: 7}
	msg := &queue.Message{DequeueCount: 3}
	cases := []struct {
		expr string
		want bool
	}{
		{`type == "BuildCoherencyInfo"`, true},
		{`type == "SubscriptionUpdate"`, false},
		{`payload.repository.startsWith("dotnet/")`, true},
		{`payload.buildId > 10`, false},
		{`dequeue_count >= 3`, true},
		{`now_ms - enqueued_at_ms > 3600000`, true},
	}
	for _, tc := range cases {
		f, err := Compile(tc.expr)
		if err != nil {
			t.Fatalf("compile %q: %v", tc.expr, err)
		}
		f.now = func() time.Time { return time.UnixMilli(2 * 3600000) }
		got, err := f.Skip(item, msg)
		if err != nil {
			t.Fatalf("%q: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Fatalf("%q = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestMissingFieldIsAnError(t *testing.T) {
	f, _ := Compile(`payload.nope == 1`)
	if _, err := f.Skip(&buildItem{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

var _ workitem.SkipFilter = (*CEL)(nil)
