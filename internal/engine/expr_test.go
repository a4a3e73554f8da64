package engine

import (
	"errors"
	"testing"

	"github.com/mkraev/Conveyor/internal/domain"
)

// testScope — Scope с фиксированными данными для тестов выражений.
func testScope() *Scope {
	results := map[string]domain.JobStatus{
		"build": domain.JobStatusSucceeded,
		"lint":  domain.JobStatusFailed,
	}
	outputs := map[string]map[string]string{
		"build": {"tag": "v1.4.2", "digest": "sha256:abc"},
	}

	return &Scope{
		Inputs: map[string]string{"env": "prod", "dry_run": "false"},
		ResultOf: func(jobID string) (domain.JobStatus, bool) {
			s, ok := results[jobID]
			return s, ok
		},
		OutputOf: func(jobID, key string) (string, bool) {
			v, ok := outputs[jobID][key]
			return v, ok
		},
		DepStatuses: func() []domain.JobStatus {
			return []domain.JobStatus{domain.JobStatusSucceeded, domain.JobStatusFailed}
		},
	}
}

func TestEval_Literals(t *testing.T) {
	scope := testScope()

	cases := []struct {
		expr string
		want any
	}{
		{"'hello'", "hello"},
		{`"world"`, "world"},
		{"42", float64(42)},
		{"3.14", float64(3.14)},
		{"true", true},
		{"false", false},
	}

	for _, tc := range cases {
		got, err := Eval(tc.expr, scope)
		if err != nil {
			t.Errorf("Eval(%q): unexpected error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Eval(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEval_References(t *testing.T) {
	scope := testScope()

	cases := []struct {
		expr string
		want any
	}{
		{"inputs.env", "prod"},
		{"needs.build.result", "succeeded"},
		{"needs.lint.result", "failed"},
		{"needs.build.outputs.tag", "v1.4.2"},
	}

	for _, tc := range cases {
		got, err := Eval(tc.expr, scope)
		if err != nil {
			t.Errorf("Eval(%q): unexpected error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Eval(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEval_UnresolvedReference(t *testing.T) {
	scope := testScope()

	for _, expr := range []string{
		"inputs.missing",
		"needs.ghost.result",
		"needs.build.outputs.missing",
	} {
		_, err := Eval(expr, scope)
		if !errors.Is(err, ErrUnresolvedReference) {
			t.Errorf("Eval(%q): expected ErrUnresolvedReference, got %v", expr, err)
		}
	}
}

func TestEval_Operators(t *testing.T) {
	scope := testScope()

	cases := []struct {
		expr string
		want bool
	}{
		{"inputs.env == 'prod'", true},
		{"inputs.env != 'prod'", false},
		{"inputs.env == 'staging' || inputs.env == 'prod'", true},
		{"inputs.env == 'prod' && inputs.dry_run == 'false'", true},
		{"!(inputs.env == 'prod')", false},
		{"needs.build.result == 'succeeded' && needs.lint.result == 'failed'", true},
		// Разнотипное сравнение через строковую форму
		{"inputs.dry_run == false", true},
		{"42 == '42'", true},
	}

	for _, tc := range cases {
		got, err := EvalBool(tc.expr, scope)
		if err != nil {
			t.Errorf("EvalBool(%q): unexpected error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("EvalBool(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEval_StatusFunctions(t *testing.T) {
	scope := testScope() // среди зависимостей есть FAILED

	cases := []struct {
		expr string
		want bool
	}{
		{"always()", true},
		{"success()", false},
		{"failure()", true},
		{"failure() && inputs.env == 'prod'", true},
	}

	for _, tc := range cases {
		got, err := EvalBool(tc.expr, scope)
		if err != nil {
			t.Errorf("EvalBool(%q): unexpected error: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("EvalBool(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEval_StatusFunctions_NoDeps(t *testing.T) {
	scope := testScope()
	scope.DepStatuses = func() []domain.JobStatus { return nil }

	// Без зависимостей success() истинен, failure() ложен
	if got, _ := EvalBool("success()", scope); !got {
		t.Error("success() without deps should be true")
	}
	if got, _ := EvalBool("failure()", scope); got {
		t.Error("failure() without deps should be false")
	}
}

func TestEval_SyntaxErrors(t *testing.T) {
	scope := testScope()

	for _, expr := range []string{
		"",
		"inputs.env ==",
		"env",                 // голый идентификатор
		"needs.build.unknown", // не result/outputs
		"'unterminated",
		"inputs.env = 'prod'", // одиночное =
		"concat('a', 'b')",    // функции без аргументов
		"inputs.env == 'prod' extra",
	} {
		_, err := Eval(expr, scope)
		if !errors.Is(err, ErrExprSyntax) {
			t.Errorf("Eval(%q): expected ErrExprSyntax, got %v", expr, err)
		}
	}
}

func TestReferences(t *testing.T) {
	refs, err := References("needs.build.outputs.tag == inputs.env && needs.lint.result == 'failed'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{
		{"needs", "build", "outputs", "tag"},
		{"inputs", "env"},
		{"needs", "lint", "result"},
	}
	if len(refs) != len(want) {
		t.Fatalf("expected %d refs, got %d: %v", len(want), len(refs), refs)
	}
	for i := range want {
		if len(refs[i]) != len(want[i]) {
			t.Errorf("ref %d: expected %v, got %v", i, want[i], refs[i])
			continue
		}
		for j := range want[i] {
			if refs[i][j] != want[i][j] {
				t.Errorf("ref %d: expected %v, got %v", i, want[i], refs[i])
				break
			}
		}
	}
}

func TestInterpolate(t *testing.T) {
	scope := testScope()

	cases := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"deploy to ${{ inputs.env }}", "deploy to prod"},
		{"${{ needs.build.outputs.tag }}-${{ inputs.env }}", "v1.4.2-prod"},
		{"flag=${{ inputs.env == 'prod' }}", "flag=true"},
	}

	for _, tc := range cases {
		got, err := Interpolate(tc.in, scope)
		if err != nil {
			t.Errorf("Interpolate(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Interpolate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInterpolate_Unterminated(t *testing.T) {
	_, err := Interpolate("broken ${{ inputs.env", testScope())
	if !errors.Is(err, ErrExprSyntax) {
		t.Fatalf("expected ErrExprSyntax, got %v", err)
	}
}

func TestResolveParams(t *testing.T) {
	scope := testScope()

	params := map[string]any{
		"url":     "https://registry/${{ needs.build.outputs.tag }}",
		"retries": 3,
		"headers": map[string]any{
			"X-Env": "${{ inputs.env }}",
		},
		"tags": []any{"latest", "${{ needs.build.outputs.tag }}"},
	}

	got, err := ResolveParams(params, scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got["url"] != "https://registry/v1.4.2" {
		t.Errorf("url = %v", got["url"])
	}
	if got["retries"] != 3 {
		t.Errorf("retries = %v", got["retries"])
	}
	headers := got["headers"].(map[string]any)
	if headers["X-Env"] != "prod" {
		t.Errorf("headers = %v", headers)
	}
	tags := got["tags"].([]any)
	if tags[1] != "v1.4.2" {
		t.Errorf("tags = %v", tags)
	}
}
