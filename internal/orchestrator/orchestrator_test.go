package orchestrator

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mkraev/Conveyor/internal/domain"
	"github.com/mkraev/Conveyor/internal/engine"
)

func testVersion(jobs ...domain.JobSpec) *domain.PipelineVersion {
	return &domain.PipelineVersion{
		PipelineID: uuid.New(),
		Version:    1,
		Spec: domain.PipelineSpec{
			Name: "test",
			Jobs: jobs,
		},
		CreatedAt: time.Now(),
	}
}

func testRun(version *domain.PipelineVersion) *domain.Run {
	return &domain.Run{
		ID:         uuid.New(),
		PipelineID: version.PipelineID,
		Version:    version.Version,
		Status:     domain.RunStatusPending,
		Trigger:    domain.TriggerManual,
		CreatedAt:  time.Now(),
	}
}

func job(id string, needs ...string) domain.JobSpec {
	return domain.JobSpec{
		ID:    id,
		Needs: needs,
		Tasks: []domain.TaskSpec{{Uses: "delay", With: map[string]any{"duration_ms": 1}}},
	}
}

func newState(t *testing.T, jobs ...domain.JobSpec) *RunState {
	t.Helper()

	version := testVersion(jobs...)
	state := NewRunState(testRun(version), version)
	if err := state.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return state
}

func attachInstances(state *RunState) {
	for _, node := range state.Graph.Order {
		status, _ := state.Ctx.Status(node.Key)
		state.AttachInstance(&domain.JobInstance{
			ID:         uuid.New(),
			RunID:      state.RunID(),
			JobID:      node.JobID,
			Key:        node.Key,
			Coordinate: node.Coordinate,
			Status:     status,
			CreatedAt:  time.Now(),
		})
	}
}

func TestRunState_Initialize(t *testing.T) {
	state := newState(t, job("build"), job("test", "build"), job("deploy", "test"))

	if state.Graph.Size() != 3 {
		t.Fatalf("expected 3 instances, got %d", state.Graph.Size())
	}

	if status, _ := state.Ctx.Status("build"); status != domain.JobStatusPending {
		t.Errorf("root instance status = %s, want PENDING", status)
	}
	if status, _ := state.Ctx.Status("test"); status != domain.JobStatusBlocked {
		t.Errorf("dependent instance status = %s, want BLOCKED", status)
	}
}

func TestRunState_Initialize_InvalidSpec(t *testing.T) {
	version := testVersion(job("a", "b"), job("b", "a"))
	state := NewRunState(testRun(version), version)

	if err := state.Initialize(); err == nil {
		t.Fatal("expected error for cyclic dependency")
	}
}

func TestRunState_Frontier(t *testing.T) {
	state := newState(t, job("build"), job("test", "build"))

	frontier := state.Frontier()
	if len(frontier) != 1 || frontier[0].Key != "build" {
		t.Fatalf("initial frontier = %v, want [build]", keysOf(frontier))
	}

	state.SetStatus("build", domain.JobStatusSucceeded)

	frontier = state.Frontier()
	if len(frontier) != 1 || frontier[0].Key != "test" {
		t.Fatalf("frontier after build = %v, want [test]", keysOf(frontier))
	}
}

func TestRunState_MatrixInstances(t *testing.T) {
	matrix := domain.JobSpec{
		ID: "test",
		Matrix: []domain.Axis{
			{Name: "os", Values: []string{"linux", "darwin"}},
		},
		Tasks: []domain.TaskSpec{{Uses: "delay", With: map[string]any{"duration_ms": 1}}},
	}
	state := newState(t, matrix)

	if state.Graph.Size() != 2 {
		t.Fatalf("expected 2 matrix instances, got %d", state.Graph.Size())
	}
	if state.Graph.Node("test[linux]") == nil || state.Graph.Node("test[darwin]") == nil {
		t.Error("expected instances test[linux] and test[darwin]")
	}
}

func TestRunState_EvalCondition(t *testing.T) {
	failureJob := domain.JobSpec{
		ID:    "rollback",
		Needs: []string{"deploy"},
		If:    "failure()",
		Tasks: []domain.TaskSpec{{Uses: "delay", With: map[string]any{"duration_ms": 1}}},
	}
	state := newState(t, job("deploy"), failureJob)

	state.SetStatus("deploy", domain.JobStatusFailed)

	node := state.Graph.Node("rollback")
	ok, err := state.EvalCondition(node)
	if err != nil {
		t.Fatalf("EvalCondition: %v", err)
	}
	if !ok {
		t.Error("failure() should pass after failed dependency")
	}
}

func TestRunState_BlockingFailures(t *testing.T) {
	cleanup := domain.JobSpec{
		ID:    "cleanup",
		Needs: []string{"build"},
		If:    "always()",
		Tasks: []domain.TaskSpec{{Uses: "delay", With: map[string]any{"duration_ms": 1}}},
	}
	state := newState(t, job("build"), cleanup)

	state.SetStatus("build", domain.JobStatusSucceeded)
	state.SetStatus("cleanup", domain.JobStatusFailed)

	// Падение always()-инстанса run не проваливает
	if failures := state.BlockingFailures(); len(failures) != 0 {
		t.Errorf("BlockingFailures = %v, want none", failures)
	}
}

func TestRunState_BlockingFailures_RegularJob(t *testing.T) {
	state := newState(t, job("build"), job("test", "build"))

	state.SetStatus("build", domain.JobStatusFailed)
	state.SetStatus("test", domain.JobStatusSkipped)

	failures := state.BlockingFailures()
	if len(failures) != 1 || failures[0] != "build" {
		t.Errorf("BlockingFailures = %v, want [build]", failures)
	}
}

func TestRunState_NonTerminalKeys(t *testing.T) {
	state := newState(t, job("a"), job("b", "a"), job("c", "b"))

	state.SetStatus("a", domain.JobStatusSucceeded)
	state.SetStatus("b", domain.JobStatusRunning)

	undispatched, running := state.NonTerminalKeys()
	if len(undispatched) != 1 || undispatched[0] != "c" {
		t.Errorf("undispatched = %v, want [c]", undispatched)
	}
	if len(running) != 1 || running[0] != "b" {
		t.Errorf("running = %v, want [b]", running)
	}
}

func TestRunState_IsComplete(t *testing.T) {
	state := newState(t, job("a"), job("b", "a"))

	if state.IsComplete() {
		t.Error("run should not be complete initially")
	}

	state.SetStatus("a", domain.JobStatusSucceeded)
	state.SetStatus("b", domain.JobStatusSkipped)

	if !state.IsComplete() {
		t.Error("run should be complete when all instances terminal")
	}
}

func TestRunState_RetryPolicy(t *testing.T) {
	withRetry := job("build")
	withRetry.Retry = &domain.RetryPolicy{MaxAttempts: 3}

	version := testVersion(withRetry, job("test", "build"))
	version.Spec.Defaults = &domain.JobDefaults{
		Retry: &domain.RetryPolicy{MaxAttempts: 2},
	}

	state := NewRunState(testRun(version), version)
	if err := state.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if got := state.RetryPolicy(state.Graph.Node("build")); got.MaxAttempts != 3 {
		t.Errorf("job retry MaxAttempts = %d, want 3 (job overrides defaults)", got.MaxAttempts)
	}
	if got := state.RetryPolicy(state.Graph.Node("test")); got.MaxAttempts != 2 {
		t.Errorf("defaults retry MaxAttempts = %d, want 2", got.MaxAttempts)
	}
}

func TestRunState_RecordOutputs(t *testing.T) {
	state := newState(t, job("build"), job("deploy", "build"))
	attachInstances(state)

	node := state.Graph.Node("build")
	if err := state.RecordOutputs(node, map[string]string{"tag": "v1.0.0"}); err != nil {
		t.Fatalf("RecordOutputs: %v", err)
	}

	// Повторная запись того же ключа отклоняется
	if err := state.RecordOutputs(node, map[string]string{"tag": "v2.0.0"}); err == nil {
		t.Error("expected duplicate output error")
	}

	v, err := state.Ctx.Output("build", "tag")
	if err != nil || v != "v1.0.0" {
		t.Errorf("Output = %q, %v; want v1.0.0", v, err)
	}
}

func TestRunState_RestoreFromInstances(t *testing.T) {
	state := newState(t, job("build"), job("test", "build"), job("deploy", "test"))

	now := time.Now()
	instances := []domain.JobInstance{
		{
			ID: uuid.New(), RunID: state.RunID(), JobID: "build", Key: "build",
			Status:    domain.JobStatusSucceeded,
			Outputs:   map[string]string{"tag": "v1.0.0"},
			CreatedAt: now,
		},
		{
			ID: uuid.New(), RunID: state.RunID(), JobID: "test", Key: "test",
			Status: domain.JobStatusRunning, Attempt: 1, CreatedAt: now,
		},
		{
			ID: uuid.New(), RunID: state.RunID(), JobID: "deploy", Key: "deploy",
			Status: domain.JobStatusBlocked, CreatedAt: now,
		},
	}
	state.RestoreFromInstances(instances)

	if status, _ := state.Ctx.Status("build"); status != domain.JobStatusSucceeded {
		t.Errorf("build status = %s, want SUCCEEDED", status)
	}
	if v, err := state.Ctx.Output("build", "tag"); err != nil || v != "v1.0.0" {
		t.Errorf("restored output = %q, %v; want v1.0.0", v, err)
	}

	_, running := state.NonTerminalKeys()
	if len(running) != 1 || running[0] != "test" {
		t.Errorf("running after restore = %v, want [test]", running)
	}

	stats := state.Stats()
	if stats.Succeeded != 1 || stats.Running != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v, want 1 succeeded, 1 running, 1 pending", stats)
	}
}

func keysOf(nodes []*engine.Node) []string {
	keys := make([]string, len(nodes))
	for i, n := range nodes {
		keys[i] = n.Key
	}
	return keys
}
