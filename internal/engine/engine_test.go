package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mkraev/Conveyor/internal/domain"
)

func TestEngine_Execute_Success(t *testing.T) {
	spec := &domain.PipelineSpec{
		Name: "release",
		On: &domain.Triggers{
			Inputs: map[string]domain.InputDef{
				"env": {Type: "string", Default: "staging"},
			},
		},
		Jobs: []domain.JobSpec{
			job("build"),
			job("deploy", "build"),
		},
	}

	runner := newStubRunner()
	eng := NewEngine(runner, nil)

	run := &domain.Run{ID: uuid.New(), Inputs: map[string]string{"env": "prod"}}
	report, err := eng.Execute(context.Background(), spec, run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Status != domain.RunStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", report.Status)
	}
	if report.RunID != run.ID {
		t.Errorf("expected %s, got %s", run.ID, report.RunID)
	}
	if len(report.Jobs) != 2 {
		t.Fatalf("expected 2 job reports, got %d", len(report.Jobs))
	}
	// Порядок отчёта стабилен: порядок объявления jobs
	if report.Jobs[0].JobID != "build" || report.Jobs[1].JobID != "deploy" {
		t.Errorf("report order: %s, %s", report.Jobs[0].JobID, report.Jobs[1].JobID)
	}
}

func TestEngine_Execute_FailedRun(t *testing.T) {
	spec := &domain.PipelineSpec{
		Name: "release",
		Jobs: []domain.JobSpec{
			job("build"),
			job("deploy", "build"),
		},
	}

	runner := newStubRunner()
	runner.fail("deploy", errors.New("deploy failed"))
	eng := NewEngine(runner, nil)

	report, err := eng.Execute(context.Background(), spec, &domain.Run{ID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Status != domain.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", report.Status)
	}
}

func TestEngine_Execute_AlwaysJobFailureDoesNotFailRun(t *testing.T) {
	// Падение компенсирующего always()-job статус run не меняет
	spec := &domain.PipelineSpec{
		Name: "release",
		Jobs: []domain.JobSpec{
			job("build"),
			{
				ID:    "cleanup",
				Needs: []string{"build"},
				If:    "always()",
				Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
		},
	}

	runner := newStubRunner()
	runner.fail("cleanup", errors.New("cleanup flake"))
	eng := NewEngine(runner, nil)

	report, err := eng.Execute(context.Background(), spec, &domain.Run{ID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Status != domain.RunStatusSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", report.Status)
	}
	// Само падение в отчёте видно
	for _, jr := range report.Jobs {
		if jr.JobID == "cleanup" && jr.Status != domain.JobStatusFailed {
			t.Errorf("cleanup: expected FAILED in report, got %s", jr.Status)
		}
	}
}

func TestEngine_Execute_InvalidInputs(t *testing.T) {
	spec := &domain.PipelineSpec{
		Name: "release",
		On: &domain.Triggers{
			Inputs: map[string]domain.InputDef{
				"env": {Type: "string", Required: true, Choices: []string{"staging", "prod"}},
			},
		},
		Jobs: []domain.JobSpec{job("build")},
	}

	// Run не стартует: ни один инстанс не выполняется
	runner := newStubRunner()
	eng := NewEngine(runner, nil)
	_, err := eng.Execute(context.Background(), spec, &domain.Run{ID: uuid.New()})
	if !errors.Is(err, ErrMissingTriggerInput) {
		t.Fatalf("expected ErrMissingTriggerInput, got %v", err)
	}
	if len(runner.startOrder()) != 0 {
		t.Error("no instance should start when trigger inputs are invalid")
	}

	_, err = eng.Execute(context.Background(), spec,
		&domain.Run{ID: uuid.New(), Inputs: map[string]string{"env": "dev"}})
	if !errors.Is(err, ErrInvalidTriggerInput) {
		t.Fatalf("expected ErrInvalidTriggerInput, got %v", err)
	}
}

func TestEngine_Execute_GraphError(t *testing.T) {
	spec := &domain.PipelineSpec{
		Name: "broken",
		Jobs: []domain.JobSpec{
			job("a", "b"),
			job("b", "a"),
		},
	}

	eng := NewEngine(newStubRunner(), nil)
	_, err := eng.Execute(context.Background(), spec, &domain.Run{ID: uuid.New()})
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestEngine_Execute_Cancelled(t *testing.T) {
	spec := &domain.PipelineSpec{
		Name: "release",
		Jobs: []domain.JobSpec{job("slow")},
	}

	runner := newStubRunner()
	runner.delay = time.Second
	eng := NewEngine(runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	report, err := eng.Execute(ctx, spec, &domain.Run{ID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Status != domain.RunStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", report.Status)
	}
}

func TestEngine_Execute_MatrixFanOut(t *testing.T) {
	spec := &domain.PipelineSpec{
		Name: "ci",
		Jobs: []domain.JobSpec{
			{
				ID: "test",
				Matrix: []domain.Axis{
					{Name: "os", Values: []string{"linux", "darwin"}},
					{Name: "arch", Values: []string{"amd64", "arm64"}},
				},
				Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
		},
	}

	eng := NewEngine(newStubRunner(), nil)
	report, err := eng.Execute(context.Background(), spec, &domain.Run{ID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.Jobs) != 4 {
		t.Fatalf("expected 4 instance reports, got %d", len(report.Jobs))
	}
	for _, jr := range report.Jobs {
		if jr.JobID != "test" {
			t.Errorf("unexpected job id %s", jr.JobID)
		}
		if len(jr.Coordinate) != 2 {
			t.Errorf("instance %s: expected 2 coordinate axes, got %v", jr.Key, jr.Coordinate)
		}
	}
}
