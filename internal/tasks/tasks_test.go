package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mkraev/Conveyor/internal/domain"
	"github.com/mkraev/Conveyor/internal/engine"
)

// Registry Tests

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if r.Count() != 0 {
		t.Errorf("expected empty registry")
	}

	r.Register(NewDelayPlugin())
	if r.Count() != 1 {
		t.Errorf("expected 1 plugin, got %d", r.Count())
	}

	p, err := r.Get("delay")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if p.Type() != "delay" {
		t.Errorf("expected delay, got %s", p.Type())
	}

	_, err = r.Get("unknown")
	if !errors.Is(err, engine.ErrUnknownTaskPlugin) {
		t.Errorf("expected ErrUnknownTaskPlugin, got %v", err)
	}

	if !r.Has("delay") {
		t.Error("should have delay")
	}
	if r.Has("unknown") {
		t.Error("should not have unknown")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	expectedTypes := []string{"command", "delay", "http"}
	for _, typ := range expectedTypes {
		if !r.Has(typ) {
			t.Errorf("default registry should have %s", typ)
		}
	}

	types := r.Types()
	if len(types) != len(expectedTypes) {
		t.Errorf("expected %d types, got %d", len(expectedTypes), len(types))
	}
}

// Delay Plugin Tests

func TestDelayPlugin_Execute(t *testing.T) {
	p := NewDelayPlugin()
	ctx := context.Background()

	req := NewRequest("test", map[string]any{"duration_ms": 50}, 0)

	start := time.Now()
	resp, err := p.Execute(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("delay was too short: %v", elapsed)
	}
	if resp.Outputs["duration_ms"] != "50" {
		t.Errorf("outputs should contain duration_ms, got %v", resp.Outputs)
	}
}

func TestDelayPlugin_Cancelled(t *testing.T) {
	p := NewDelayPlugin()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Execute(ctx, NewRequest("test", map[string]any{"duration_sec": 1}, 0))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTaskCancelled) {
		t.Fatalf("expected ErrTaskCancelled, got %v", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("cancellation took too long: %v", elapsed)
	}
}

func TestDelayPlugin_InvalidParams(t *testing.T) {
	p := NewDelayPlugin()

	_, err := p.Execute(context.Background(), NewRequest("test", map[string]any{}, 0))
	if !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}

// HTTP Plugin Tests

func TestHTTPPlugin_GET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer server.Close()

	p := NewHTTPPlugin()
	resp, err := p.Execute(context.Background(), NewRequest("test", map[string]any{
		"method": "GET",
		"url":    server.URL,
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Outputs["status_code"] != "200" {
		t.Errorf("expected status_code 200, got %v", resp.Outputs["status_code"])
	}
	if !strings.Contains(resp.Outputs["body"], `"status":"ok"`) {
		t.Errorf("unexpected body: %q", resp.Outputs["body"])
	}
}

func TestHTTPPlugin_POST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %s", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["tag"] != "v1" {
			t.Errorf("expected tag=v1, got %v", body["tag"])
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	p := NewHTTPPlugin()
	resp, err := p.Execute(context.Background(), NewRequest("test", map[string]any{
		"method": "POST",
		"url":    server.URL,
		"body":   map[string]any{"tag": "v1"},
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Outputs["status_code"] != "201" {
		t.Errorf("expected 201, got %v", resp.Outputs["status_code"])
	}
}

func TestHTTPPlugin_FailOnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewHTTPPlugin()

	// По умолчанию статус >= 400 — ошибка
	_, err := p.Execute(context.Background(), NewRequest("test", map[string]any{
		"url": server.URL,
	}, 0))
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}

	// fail_on_error=false: статус возвращается в outputs
	resp, err := p.Execute(context.Background(), NewRequest("test", map[string]any{
		"url":           server.URL,
		"fail_on_error": false,
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Outputs["status_code"] != "500" {
		t.Errorf("expected 500, got %v", resp.Outputs["status_code"])
	}
}

func TestHTTPPlugin_MissingURL(t *testing.T) {
	p := NewHTTPPlugin()
	_, err := p.Execute(context.Background(), NewRequest("test", map[string]any{}, 0))
	if !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}

// Command Plugin Tests

func TestCommandPlugin_Execute(t *testing.T) {
	p := NewCommandPlugin()

	resp, err := p.Execute(context.Background(), NewRequest("test", map[string]any{
		"run": "echo hello && echo ::set-output greeting=hello",
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Outputs["greeting"] != "hello" {
		t.Errorf("expected greeting=hello, got %v", resp.Outputs)
	}
	if !strings.Contains(resp.Log, "hello") {
		t.Errorf("log should contain command output: %q", resp.Log)
	}
}

func TestCommandPlugin_NonZeroExit(t *testing.T) {
	p := NewCommandPlugin()

	_, err := p.Execute(context.Background(), NewRequest("test", map[string]any{
		"run": "echo failing >&2; exit 3",
	}, 0))
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "failing") {
		t.Errorf("error should carry stderr tail: %v", err)
	}
}

func TestCommandPlugin_Env(t *testing.T) {
	p := NewCommandPlugin()

	resp, err := p.Execute(context.Background(), NewRequest("test", map[string]any{
		"run": "echo ::set-output value=$MY_VAR",
		"env": map[string]any{"MY_VAR": "42"},
	}, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Outputs["value"] != "42" {
		t.Errorf("expected value=42, got %v", resp.Outputs)
	}
}

// Runner Tests

func runnerExec(spec *domain.JobSpec, scope *engine.Scope) engine.JobExecution {
	if scope == nil {
		scope = &engine.Scope{
			Inputs:      map[string]string{},
			ResultOf:    func(string) (domain.JobStatus, bool) { return "", false },
			OutputOf:    func(string, string) (string, bool) { return "", false },
			DepStatuses: func() []domain.JobStatus { return nil },
		}
	}
	return engine.JobExecution{
		RunID: "run-1",
		Key:   spec.ID,
		Spec:  spec,
		Scope: scope,
	}
}

func TestRunner_SequentialTasks(t *testing.T) {
	runner := NewRunner(nil, nil)

	spec := &domain.JobSpec{
		ID: "build",
		Tasks: []domain.TaskSpec{
			{ID: "first", Uses: "command", With: map[string]any{
				"run": "echo ::set-output a=1",
			}, Outputs: []string{"a"}},
			{ID: "second", Uses: "command", With: map[string]any{
				"run": "echo ::set-output b=2",
			}, Outputs: []string{"b"}},
		},
	}

	res := runner.RunJob(context.Background(), runnerExec(spec, nil))
	if res.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s: %v", res.Status, res.Err)
	}
	if res.Outputs["a"] != "1" || res.Outputs["b"] != "2" {
		t.Errorf("unexpected outputs: %v", res.Outputs)
	}
}

func TestRunner_FailureStopsJob(t *testing.T) {
	runner := NewRunner(nil, nil)

	spec := &domain.JobSpec{
		ID: "build",
		Tasks: []domain.TaskSpec{
			{ID: "boom", Uses: "command", With: map[string]any{"run": "exit 1"}},
			{ID: "never", Uses: "command", With: map[string]any{
				"run": "echo ::set-output x=1",
			}, Outputs: []string{"x"}},
		},
	}

	res := runner.RunJob(context.Background(), runnerExec(spec, nil))
	if res.Status != domain.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "boom") {
		t.Errorf("error should name the failed task: %v", res.Err)
	}
	if _, ok := res.Outputs["x"]; ok {
		t.Error("tasks after a failure should not run")
	}
}

func TestRunner_MissingDeclaredOutput(t *testing.T) {
	runner := NewRunner(nil, nil)

	spec := &domain.JobSpec{
		ID: "build",
		Tasks: []domain.TaskSpec{
			{ID: "t", Uses: "command", With: map[string]any{
				"run": "echo no outputs here",
			}, Outputs: []string{"tag"}},
		},
	}

	res := runner.RunJob(context.Background(), runnerExec(spec, nil))
	if res.Status != domain.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if !errors.Is(res.Err, engine.ErrMissingDeclaredOutput) {
		t.Errorf("expected ErrMissingDeclaredOutput, got %v", res.Err)
	}
}

func TestRunner_TaskCondition(t *testing.T) {
	runner := NewRunner(nil, nil)

	scope := &engine.Scope{
		Inputs:      map[string]string{"env": "staging"},
		ResultOf:    func(string) (domain.JobStatus, bool) { return "", false },
		OutputOf:    func(string, string) (string, bool) { return "", false },
		DepStatuses: func() []domain.JobStatus { return nil },
	}

	spec := &domain.JobSpec{
		ID: "deploy",
		Tasks: []domain.TaskSpec{
			{ID: "notify", Uses: "command", If: "inputs.env == 'prod'", With: map[string]any{
				"run": "echo ::set-output sent=yes",
			}},
			{ID: "always-run", Uses: "command", With: map[string]any{
				"run": "echo ::set-output done=yes",
			}, Outputs: []string{"done"}},
		},
	}

	res := runner.RunJob(context.Background(), runnerExec(spec, scope))
	if res.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s: %v", res.Status, res.Err)
	}
	if res.Outputs["done"] != "yes" {
		t.Errorf("unexpected outputs: %v", res.Outputs)
	}
	if !strings.Contains(res.Logs, "skipped") {
		t.Errorf("log should record the skipped task: %q", res.Logs)
	}
}

func TestRunner_ParamInterpolation(t *testing.T) {
	runner := NewRunner(nil, nil)

	scope := &engine.Scope{
		Inputs:   map[string]string{"name": "world"},
		ResultOf: func(string) (domain.JobStatus, bool) { return "", false },
		OutputOf: func(jobID, key string) (string, bool) {
			if jobID == "build" && key == "tag" {
				return "v9", true
			}
			return "", false
		},
		DepStatuses: func() []domain.JobStatus { return nil },
	}

	spec := &domain.JobSpec{
		ID:    "deploy",
		Needs: []string{"build"},
		Tasks: []domain.TaskSpec{
			{ID: "t", Uses: "command", With: map[string]any{
				"run": "echo ::set-output msg=${{ inputs.name }}-${{ needs.build.outputs.tag }}",
			}, Outputs: []string{"msg"}},
		},
	}

	res := runner.RunJob(context.Background(), runnerExec(spec, scope))
	if res.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s: %v", res.Status, res.Err)
	}
	if res.Outputs["msg"] != "world-v9" {
		t.Errorf("expected world-v9, got %q", res.Outputs["msg"])
	}
}

func TestRunner_Timeout(t *testing.T) {
	runner := NewRunner(nil, nil)

	spec := &domain.JobSpec{
		ID: "slow",
		Tasks: []domain.TaskSpec{
			{ID: "t", Uses: "delay", TimeoutSec: 1, With: map[string]any{
				"duration_sec": 10,
			}},
		},
	}

	start := time.Now()
	res := runner.RunJob(context.Background(), runnerExec(spec, nil))
	if time.Since(start) > 3*time.Second {
		t.Fatal("timeout should interrupt the task")
	}
	if res.Status != domain.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if !errors.Is(res.Err, engine.ErrTaskTimeout) {
		t.Errorf("expected ErrTaskTimeout, got %v", res.Err)
	}
}

func TestRunner_UnknownPlugin(t *testing.T) {
	runner := NewRunner(nil, nil)

	spec := &domain.JobSpec{
		ID:    "job",
		Tasks: []domain.TaskSpec{{ID: "t", Uses: "teleport"}},
	}

	res := runner.RunJob(context.Background(), runnerExec(spec, nil))
	if res.Status != domain.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if !errors.Is(res.Err, engine.ErrUnknownTaskPlugin) {
		t.Errorf("expected ErrUnknownTaskPlugin, got %v", res.Err)
	}
}
