package condition

import (
	"errors"
	"testing"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	return e
}

func TestEvalSimpleExpressions(t *testing.T) {
	e := newTestEvaluator(t)

	cases := []struct {
		expr string
		vars Vars
		want bool
	}{
		{`principal == "user:alice"`, Vars{Principal: "user:alice"}, true},
		{`principal == "user:alice"`, Vars{Principal: "user:bob"}, false},
		{`action.startsWith("doc:")`, Vars{Action: "doc:read"}, true},
		{`resource != ""`, Vars{Resource: "file:1"}, true},
		{`context["tier"] == "gold"`, Vars{Context: map[string]any{"tier": "gold"}}, true},
		{`"tier" in context && context["tier"] == "gold"`, Vars{Context: map[string]any{"tier": "silver"}}, false},
	}
	for _, tc := range cases {
		got, err := e.Eval(tc.expr, tc.vars)
		if err != nil {
			t.Errorf("Eval(%q) failed: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Eval(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEmptyExpressionIsVacuouslyTrue(t *testing.T) {
	e := newTestEvaluator(t)

	got, err := e.Eval("", Vars{})
	if err != nil {
		t.Fatalf("Eval(\"\") failed: %v", err)
	}
	if !got {
		t.Fatal("empty expression must evaluate true")
	}
}

func TestCompileRejectsSyntaxErrors(t *testing.T) {
	e := newTestEvaluator(t)

	for _, expr := range []string{
		`principal ==`,
		`unknown_var == "x"`,
		`1 + 2`,
		`"just a string"`,
	} {
		if err := e.Compile(expr); !errors.Is(err, ErrSyntax) {
			t.Errorf("Compile(%q) = %v, want ErrSyntax", expr, err)
		}
	}
}

func TestEvalMissingContextKeyIsEvalError(t *testing.T) {
	e := newTestEvaluator(t)

	_, err := e.Eval(`context["missing"] == "x"`, Vars{})
	if !errors.Is(err, ErrEval) {
		t.Fatalf("expected ErrEval for missing context key, got %v", err)
	}
}

func TestNilContextEvaluatesAsEmptyMap(t *testing.T) {
	e := newTestEvaluator(t)

	got, err := e.Eval(`"tier" in context`, Vars{})
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if got {
		t.Fatal("nil context must behave as an empty map")
	}
}

func TestProgramCacheReturnsSameResult(t *testing.T) {
	e := newTestEvaluator(t)
	expr := `action == "doc:read"`
	vars := Vars{Action: "doc:read"}

	for i := 0; i < 3; i++ {
		got, err := e.Eval(expr, vars)
		if err != nil {
			t.Fatalf("Eval round %d failed: %v", i, err)
		}
		if !got {
			t.Fatalf("Eval round %d = false, want true", i)
		}
	}
}

func TestDefaultIsShared(t *testing.T) {
	a, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	b, err := Default()
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}
	if a != b {
		t.Fatal("Default must return the same evaluator")
	}
}
