package engine

import (
	"errors"
	"testing"

	"github.com/mkraev/Conveyor/internal/domain"
)

func TestRunContext_OutputsWriteOnce(t *testing.T) {
	rc := NewRunContext(nil)
	rc.Register("build", []string{"build"})

	if err := rc.SetOutput("build", "tag", "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Повторная запись того же ключа запрещена
	err := rc.SetOutput("build", "tag", "v2")
	if !errors.Is(err, ErrDuplicateOutput) {
		t.Fatalf("expected ErrDuplicateOutput, got %v", err)
	}

	// Первое значение не затёрто
	v, err := rc.Output("build", "tag")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "v1" {
		t.Errorf("expected v1, got %q", v)
	}
}

func TestRunContext_SetOutputsAtomic(t *testing.T) {
	rc := NewRunContext(nil)
	rc.Register("build", []string{"build"})

	if err := rc.SetOutput("build", "tag", "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Пакет с конфликтом не применяется даже частично
	err := rc.SetOutputs("build", map[string]string{"digest": "sha", "tag": "v2"})
	if !errors.Is(err, ErrDuplicateOutput) {
		t.Fatalf("expected ErrDuplicateOutput, got %v", err)
	}
	if _, err := rc.Output("build", "digest"); !errors.Is(err, ErrMissingOutput) {
		t.Error("digest should not be written after a rejected batch")
	}
}

func TestRunContext_MissingOutput(t *testing.T) {
	rc := NewRunContext(nil)
	rc.Register("build", []string{"build"})

	_, err := rc.Output("build", "tag")
	if !errors.Is(err, ErrMissingOutput) {
		t.Fatalf("expected ErrMissingOutput, got %v", err)
	}
}

func TestRunContext_TerminalStatusImmutable(t *testing.T) {
	rc := NewRunContext(nil)
	rc.Register("a", []string{"a"})

	rc.SetStatus("a", domain.JobStatusFailed)
	rc.SetStatus("a", domain.JobStatusSucceeded)

	status, _ := rc.Status("a")
	if status != domain.JobStatusFailed {
		t.Errorf("terminal status should be immutable, got %s", status)
	}
}

func TestRunContext_JobResultAggregation(t *testing.T) {
	rc := NewRunContext(nil)
	rc.Register("test", []string{"test[linux]", "test[darwin]", "test[windows]"})

	// Не все инстансы терминальны — результата ещё нет
	rc.SetStatus("test[linux]", domain.JobStatusSucceeded)
	if _, ok := rc.JobResult("test"); ok {
		t.Error("result should not be available until all instances are terminal")
	}

	rc.SetStatus("test[darwin]", domain.JobStatusFailed)
	rc.SetStatus("test[windows]", domain.JobStatusSkipped)

	status, ok := rc.JobResult("test")
	if !ok {
		t.Fatal("result should be available")
	}
	// Любой FAILED инстанс делает job FAILED
	if status != domain.JobStatusFailed {
		t.Errorf("expected FAILED, got %s", status)
	}
}

func TestAggregateJobStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []domain.JobStatus
		want     domain.JobStatus
	}{
		{"all succeeded", []domain.JobStatus{domain.JobStatusSucceeded, domain.JobStatusSucceeded}, domain.JobStatusSucceeded},
		{"any failed", []domain.JobStatus{domain.JobStatusSucceeded, domain.JobStatusFailed}, domain.JobStatusFailed},
		{"all skipped", []domain.JobStatus{domain.JobStatusSkipped, domain.JobStatusSkipped}, domain.JobStatusSkipped},
		{"mixed skip and success", []domain.JobStatus{domain.JobStatusSkipped, domain.JobStatusSucceeded}, domain.JobStatusSucceeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.AggregateJobStatus(tc.statuses); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestScopeFor(t *testing.T) {
	rc := NewRunContext(map[string]string{"env": "prod"})
	rc.Register("build", []string{"build"})
	rc.Register("deploy", []string{"deploy"})

	rc.SetStatus("build", domain.JobStatusSucceeded)
	if err := rc.SetOutput("build", "tag", "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	scope := rc.ScopeFor([]string{"build"})

	if scope.Inputs["env"] != "prod" {
		t.Error("scope should expose run inputs")
	}

	status, ok := scope.ResultOf("build")
	if !ok || status != domain.JobStatusSucceeded {
		t.Errorf("ResultOf(build) = %s, %v", status, ok)
	}

	v, ok := scope.OutputOf("build", "tag")
	if !ok || v != "v1" {
		t.Errorf("OutputOf(build, tag) = %q, %v", v, ok)
	}

	statuses := scope.DepStatuses()
	if len(statuses) != 1 || statuses[0] != domain.JobStatusSucceeded {
		t.Errorf("DepStatuses = %v", statuses)
	}
}
