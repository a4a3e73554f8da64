package worker

import (
	"testing"
	"time"

	"github.com/mkraev/Conveyor/internal/domain"
)

func TestCalculateBackoff_Fixed(t *testing.T) {
	policy := &domain.RetryPolicy{
		Backoff:        "fixed",
		InitialDelayMs: 500,
	}

	for attempt := 1; attempt <= 3; attempt++ {
		if got := calculateBackoff(attempt, policy); got != 500*time.Millisecond {
			t.Errorf("attempt %d: backoff = %v, want 500ms", attempt, got)
		}
	}
}

func TestCalculateBackoff_Exponential(t *testing.T) {
	policy := &domain.RetryPolicy{
		Backoff:        "exponential",
		InitialDelayMs: 100,
		MaxDelayMs:     1000,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1000 * time.Millisecond}, // ограничено MaxDelayMs
		{10, 1000 * time.Millisecond},
	}

	for _, tc := range cases {
		if got := calculateBackoff(tc.attempt, policy); got != tc.want {
			t.Errorf("attempt %d: backoff = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestCalculateBackoff_NilPolicy(t *testing.T) {
	if got := calculateBackoff(3, nil); got != time.Second {
		t.Errorf("backoff without policy = %v, want 1s", got)
	}
}

func TestCalculateBackoff_Defaults(t *testing.T) {
	// Пустая политика: initial 1s, max 30s
	policy := &domain.RetryPolicy{Backoff: "exponential"}

	if got := calculateBackoff(1, policy); got != time.Second {
		t.Errorf("first attempt = %v, want 1s", got)
	}
	if got := calculateBackoff(10, policy); got != 30*time.Second {
		t.Errorf("capped backoff = %v, want 30s", got)
	}
}

func TestRetryPolicyFor(t *testing.T) {
	jobPolicy := &domain.RetryPolicy{MaxAttempts: 5}
	defaultPolicy := &domain.RetryPolicy{MaxAttempts: 2}

	spec := &domain.JobSpec{ID: "build", Retry: jobPolicy}
	defaults := &domain.JobDefaults{Retry: defaultPolicy}

	if got := retryPolicyFor(spec, defaults); got != jobPolicy {
		t.Error("job policy should override defaults")
	}

	plain := &domain.JobSpec{ID: "test"}
	if got := retryPolicyFor(plain, defaults); got != defaultPolicy {
		t.Error("defaults policy expected when job has none")
	}

	if got := retryPolicyFor(plain, nil); got != nil {
		t.Error("nil expected without any policy")
	}
}

func TestSplitLogs(t *testing.T) {
	lines := splitLogs("first\nsecond\n\nthird\n")
	if len(lines) != 3 || lines[0] != "first" || lines[2] != "third" {
		t.Errorf("splitLogs = %v, want [first second third]", lines)
	}

	if got := splitLogs(""); got != nil {
		t.Errorf("splitLogs(empty) = %v, want nil", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	w := New(Config{})

	if w.pollInterval != defaultPollInterval {
		t.Errorf("pollInterval = %v, want %v", w.pollInterval, defaultPollInterval)
	}
	if w.batchSize != defaultBatchSize {
		t.Errorf("batchSize = %d, want %d", w.batchSize, defaultBatchSize)
	}
	if w.runner == nil {
		t.Error("default runner should be configured")
	}
	if w.logger == nil {
		t.Error("default logger should be configured")
	}
}
