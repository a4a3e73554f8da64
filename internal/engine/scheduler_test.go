package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mkraev/Conveyor/internal/domain"
)

// stubRunner — JobRunner для тестов планировщика: результаты по ключу
// инстанса, запись порядка запусков, учёт пикового параллелизма.
type stubRunner struct {
	mu      sync.Mutex
	results map[string]JobResult // ключ → результат (по умолчанию SUCCEEDED)
	delay   time.Duration
	started []string
	active  int
	peak    int
}

func newStubRunner() *stubRunner {
	return &stubRunner{results: make(map[string]JobResult)}
}

func (r *stubRunner) fail(key string, err error) {
	r.results[key] = JobResult{Status: domain.JobStatusFailed, Err: err}
}

func (r *stubRunner) succeed(key string, outputs map[string]string) {
	r.results[key] = JobResult{Status: domain.JobStatusSucceeded, Outputs: outputs}
}

func (r *stubRunner) RunJob(ctx context.Context, exec JobExecution) JobResult {
	r.mu.Lock()
	r.started = append(r.started, exec.Key)
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			r.mu.Lock()
			r.active--
			r.mu.Unlock()
			return JobResult{Status: domain.JobStatusFailed, Err: errors.New("cancelled")}
		}
	}

	r.mu.Lock()
	r.active--
	res, ok := r.results[exec.Key]
	r.mu.Unlock()

	if !ok {
		res = JobResult{Status: domain.JobStatusSucceeded}
	}
	return res
}

func (r *stubRunner) startOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

// runGraph — построение графа, регистрация инстансов и прогон планировщика.
func runGraph(t *testing.T, spec *domain.PipelineSpec, runner JobRunner, maxParallel int) (map[string]*InstanceOutcome, *RunContext) {
	t.Helper()

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	rc := NewRunContext(nil)
	for jobID, nodes := range g.ByJob {
		keys := make([]string, len(nodes))
		for i, n := range nodes {
			keys[i] = n.Key
		}
		rc.Register(jobID, keys)
	}

	sched := NewScheduler(runner, maxParallel)
	outcomes := sched.Run(context.Background(), g, rc, "run-1", nil)
	return outcomes, rc
}

func TestScheduler_DependencyOrder(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			job("build"),
			job("test", "build"),
			job("deploy", "test"),
		},
	}

	runner := newStubRunner()
	outcomes, _ := runGraph(t, spec, runner, 4)

	order := runner.startOrder()
	if len(order) != 3 {
		t.Fatalf("expected 3 starts, got %v", order)
	}
	// Каждый инстанс стартует строго после всех зависимостей
	if order[0] != "build" || order[1] != "test" || order[2] != "deploy" {
		t.Errorf("wrong start order: %v", order)
	}

	for key, outcome := range outcomes {
		if outcome.Status != domain.JobStatusSucceeded {
			t.Errorf("%s: expected SUCCEEDED, got %s", key, outcome.Status)
		}
	}
}

func TestScheduler_BoundedParallelism(t *testing.T) {
	// 6 независимых jobs, лимит 2
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			job("a"), job("b"), job("c"), job("d"), job("e"), job("f"),
		},
	}

	runner := newStubRunner()
	runner.delay = 20 * time.Millisecond
	outcomes, _ := runGraph(t, spec, runner, 2)

	if len(outcomes) != 6 {
		t.Fatalf("expected 6 outcomes, got %d", len(outcomes))
	}
	if runner.peak > 2 {
		t.Errorf("parallelism limit violated: peak %d > 2", runner.peak)
	}
}

func TestScheduler_FailureSkipsDependents(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			job("build"),
			job("deploy", "build"),
			job("verify", "deploy"),
		},
	}

	runner := newStubRunner()
	runner.fail("build", errors.New("compile error"))
	outcomes, _ := runGraph(t, spec, runner, 4)

	if outcomes["build"].Status != domain.JobStatusFailed {
		t.Errorf("build: expected FAILED, got %s", outcomes["build"].Status)
	}
	// Транзитивный пропуск: deploy и verify не выполняются
	if outcomes["deploy"].Status != domain.JobStatusSkipped {
		t.Errorf("deploy: expected SKIPPED, got %s", outcomes["deploy"].Status)
	}
	if outcomes["verify"].Status != domain.JobStatusSkipped {
		t.Errorf("verify: expected SKIPPED, got %s", outcomes["verify"].Status)
	}

	order := runner.startOrder()
	if len(order) != 1 {
		t.Errorf("only build should start, got %v", order)
	}
}

func TestScheduler_RollbackOnFailure(t *testing.T) {
	// build → deploy → verify, rollback с failure() после deploy
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			job("build"),
			job("deploy", "build"),
			{
				ID:    "verify",
				Needs: []string{"deploy"},
				Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
			{
				ID:    "rollback",
				Needs: []string{"deploy"},
				If:    "failure()",
				Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
		},
	}

	// Успешный прогон: rollback пропущен
	runner := newStubRunner()
	outcomes, _ := runGraph(t, spec, runner, 4)
	if outcomes["rollback"].Status != domain.JobStatusSkipped {
		t.Errorf("rollback should be skipped on success, got %s", outcomes["rollback"].Status)
	}
	if outcomes["verify"].Status != domain.JobStatusSucceeded {
		t.Errorf("verify should run on success, got %s", outcomes["verify"].Status)
	}

	// Падение deploy: verify пропущен, rollback выполнен
	runner = newStubRunner()
	runner.fail("deploy", errors.New("deploy failed"))
	outcomes, _ = runGraph(t, spec, runner, 4)
	if outcomes["verify"].Status != domain.JobStatusSkipped {
		t.Errorf("verify should be skipped on failure, got %s", outcomes["verify"].Status)
	}
	if outcomes["rollback"].Status != domain.JobStatusSucceeded {
		t.Errorf("rollback should run on failure, got %s", outcomes["rollback"].Status)
	}
}

func TestScheduler_RollbackOnTransitiveFailure(t *testing.T) {
	// rollback стоит за deploy, но падает build: deploy пропускается,
	// и failure() у rollback должен увидеть падение через SKIPPED-звено
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			job("build"),
			{
				ID:    "deploy",
				Needs: []string{"build"},
				If:    "success()",
				Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
			{
				ID:    "rollback",
				Needs: []string{"deploy"},
				If:    "failure()",
				Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
		},
	}

	runner := newStubRunner()
	runner.fail("build", errors.New("build failed"))
	outcomes, _ := runGraph(t, spec, runner, 4)

	if outcomes["deploy"].Status != domain.JobStatusSkipped {
		t.Errorf("deploy: expected SKIPPED, got %s", outcomes["deploy"].Status)
	}
	if outcomes["rollback"].Status != domain.JobStatusSucceeded {
		t.Errorf("rollback: expected SUCCEEDED, got %s", outcomes["rollback"].Status)
	}

	order := runner.startOrder()
	if len(order) != 2 || order[0] != "build" || order[1] != "rollback" {
		t.Errorf("expected starts [build rollback], got %v", order)
	}
}

func TestScheduler_OutputsFlowBetweenJobs(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			{
				ID: "build",
				Tasks: []domain.TaskSpec{
					{ID: "t", Uses: "command", Outputs: []string{"tag"}},
				},
			},
			job("deploy", "build"),
		},
	}

	runner := newStubRunner()
	runner.succeed("build", map[string]string{"tag": "v2.0"})
	_, rc := runGraph(t, spec, runner, 4)

	v, err := rc.Output("build", "tag")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "v2.0" {
		t.Errorf("expected v2.0, got %q", v)
	}
}

func TestScheduler_MatrixAggregation(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			{
				ID:     "test",
				Matrix: []domain.Axis{{Name: "os", Values: []string{"linux", "darwin", "windows"}}},
				Tasks:  []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
			job("release", "test"),
			{
				ID:    "notify",
				Needs: []string{"test"},
				If:    "failure()",
				Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
		},
	}

	// Один инстанс matrix падает: release пропущен, notify выполнен
	runner := newStubRunner()
	runner.fail("test[windows]", errors.New("flaky"))
	outcomes, rc := runGraph(t, spec, runner, 4)

	status, ok := rc.JobResult("test")
	if !ok || status != domain.JobStatusFailed {
		t.Errorf("aggregated test result should be FAILED, got %s, %v", status, ok)
	}
	if outcomes["release"].Status != domain.JobStatusSkipped {
		t.Errorf("release: expected SKIPPED, got %s", outcomes["release"].Status)
	}
	if outcomes["notify"].Status != domain.JobStatusSucceeded {
		t.Errorf("notify: expected SUCCEEDED, got %s", outcomes["notify"].Status)
	}
}

func TestScheduler_Cancellation(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			job("slow"),
			job("after", "slow"),
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	rc := NewRunContext(nil)
	rc.Register("slow", []string{"slow"})
	rc.Register("after", []string{"after"})

	runner := newStubRunner()
	runner.delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcomes := NewScheduler(runner, 4).Run(ctx, g, rc, "run-1", nil)
	if time.Since(start) >= time.Second {
		t.Fatal("cancellation should interrupt in-flight jobs")
	}

	// В полёте — FAILED, неотправленные — SKIPPED
	if outcomes["slow"].Status != domain.JobStatusFailed {
		t.Errorf("slow: expected FAILED, got %s", outcomes["slow"].Status)
	}
	if outcomes["after"].Status != domain.JobStatusSkipped {
		t.Errorf("after: expected SKIPPED, got %s", outcomes["after"].Status)
	}
}

func TestScheduler_DuplicateOutputFailsInstance(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			{
				ID: "build",
				Tasks: []domain.TaskSpec{
					{ID: "t", Uses: "command", Outputs: []string{"tag"}},
				},
			},
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	rc := NewRunContext(nil)
	rc.Register("build", []string{"build"})

	// Ключ уже занят: публикация результата конфликтует
	if err := rc.SetOutput("build", "tag", "stale"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runner := newStubRunner()
	runner.succeed("build", map[string]string{"tag": "v1"})
	outcomes := NewScheduler(runner, 4).Run(context.Background(), g, rc, "run-1", nil)

	if outcomes["build"].Status != domain.JobStatusFailed {
		t.Errorf("expected FAILED on duplicate output, got %s", outcomes["build"].Status)
	}
	if !strings.Contains(outcomes["build"].Error, "already written") {
		t.Errorf("error should mention the write conflict: %q", outcomes["build"].Error)
	}
}
