package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/mkraev/Conveyor/internal/domain"
)

// job — минимальный JobSpec для тестов графа.
func job(id string, needs ...string) domain.JobSpec {
	return domain.JobSpec{
		ID:    id,
		Needs: needs,
		Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}},
	}
}

func TestBuildGraph_SimpleChain(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			job("build"),
			job("test", "build"),
			job("deploy", "test"),
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}

	if len(g.RootNodes) != 1 {
		t.Fatalf("expected 1 root node, got %d", len(g.RootNodes))
	}
	if g.RootNodes[0].Key != "build" {
		t.Errorf("expected root node build, got %s", g.RootNodes[0].Key)
	}

	// Проверяем рёбра
	test := g.Node("test")
	if len(test.DependsOn) != 1 || test.DependsOn[0].Key != "build" {
		t.Error("test should depend on build")
	}
	deploy := g.Node("deploy")
	if len(deploy.DependsOn) != 1 || deploy.DependsOn[0].Key != "test" {
		t.Error("deploy should depend on test")
	}
}

func TestBuildGraph_Diamond(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			job("a"),
			job("b", "a"),
			job("c", "a"),
			job("d", "b", "c"),
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := g.Node("d")
	if len(d.DependsOn) != 2 {
		t.Errorf("d should have 2 dependencies, got %d", len(d.DependsOn))
	}
	if g.Node("a").InDegree != 0 {
		t.Error("a should have inDegree 0")
	}
	if d.InDegree != 2 {
		t.Errorf("d should have inDegree 2, got %d", d.InDegree)
	}
}

func TestBuildGraph_Cycle(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			job("a", "c"),
			job("b", "a"),
			job("c", "b"),
		},
	}

	_, err := BuildGraph(spec)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}

	// Ошибка называет jobs, образующие цикл
	for _, id := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), id) {
			t.Errorf("cycle error should name %s: %v", id, err)
		}
	}
}

func TestBuildGraph_SelfDependency(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{job("a", "a")},
	}

	_, err := BuildGraph(spec)
	if !errors.Is(err, ErrSelfDependency) {
		t.Fatalf("expected ErrSelfDependency, got %v", err)
	}
}

func TestBuildGraph_UnknownDependency(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{job("a", "ghost")},
	}

	_, err := BuildGraph(spec)
	if !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("error should name missing job: %v", err)
	}
}

func TestBuildGraph_DuplicateJobID(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{job("a"), job("a")},
	}

	_, err := BuildGraph(spec)
	if !errors.Is(err, ErrDuplicateJobID) {
		t.Fatalf("expected ErrDuplicateJobID, got %v", err)
	}
}

func TestBuildGraph_EmptyJobs(t *testing.T) {
	_, err := BuildGraph(&domain.PipelineSpec{})
	if !errors.Is(err, ErrEmptyJobs) {
		t.Fatalf("expected ErrEmptyJobs, got %v", err)
	}
}

func TestBuildGraph_MatrixExpansion(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			{
				ID: "test",
				Matrix: []domain.Axis{
					{Name: "os", Values: []string{"linux", "darwin"}},
					{Name: "go", Values: []string{"1.23", "1.24", "1.25"}},
				},
				Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// |os| * |go| = 2 * 3 = 6 инстансов
	if g.Size() != 6 {
		t.Fatalf("expected 6 instances, got %d", g.Size())
	}

	// Порядок детерминирован: первая ось — старший разряд.
	// В ключе значения идут по отсортированным именам осей (go, os).
	wantKeys := []string{
		"test[1.23,linux]",
		"test[1.24,linux]",
		"test[1.25,linux]",
		"test[1.23,darwin]",
		"test[1.24,darwin]",
		"test[1.25,darwin]",
	}
	for i, node := range g.Order {
		if node.Key != wantKeys[i] {
			t.Errorf("order[%d]: expected %s, got %s", i, wantKeys[i], node.Key)
		}
	}
}

func TestBuildGraph_MatrixFanInEdges(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			{
				ID:     "test",
				Matrix: []domain.Axis{{Name: "os", Values: []string{"linux", "darwin"}}},
				Tasks:  []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
			job("release", "test"),
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// release зависит от всех инстансов test
	release := g.Node("release")
	if len(release.DependsOn) != 2 {
		t.Errorf("release should depend on 2 test instances, got %d", len(release.DependsOn))
	}
}

func TestBuildGraph_MatrixDuplicateCoordinates(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			{
				ID:     "test",
				Matrix: []domain.Axis{{Name: "os", Values: []string{"linux", "linux"}}},
				Tasks:  []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Одинаковые координаты схлопываются в один инстанс
	if g.Size() != 1 {
		t.Errorf("expected 1 instance after dedup, got %d", g.Size())
	}
}

func TestBuildGraph_MatrixValuesWithSeparator(t *testing.T) {
	// Значения осей содержат разделитель ключа: разные координаты
	// не должны схлопываться из-за совпадения склеенных значений
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			{
				ID: "j",
				Matrix: []domain.Axis{
					{Name: "a", Values: []string{"x,y", "x"}},
					{Name: "b", Values: []string{"z", "y,z"}},
				},
				Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}},
			},
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 2 * 2 = 4 инстанса с различными ключами
	if g.Size() != 4 {
		keys := make([]string, 0, len(g.Order))
		for _, node := range g.Order {
			keys = append(keys, node.Key)
		}
		t.Fatalf("expected 4 instances (2x2 matrix), got %d: %v", g.Size(), keys)
	}

	seen := make(map[string]bool)
	for _, node := range g.Order {
		if seen[node.Key] {
			t.Errorf("duplicate instance key: %s", node.Key)
		}
		seen[node.Key] = true
	}
}

func TestBuildGraph_InvalidMatrix(t *testing.T) {
	cases := []struct {
		name string
		axes []domain.Axis
	}{
		{"empty axis name", []domain.Axis{{Name: "", Values: []string{"x"}}}},
		{"empty values", []domain.Axis{{Name: "os", Values: nil}}},
		{"duplicate axis", []domain.Axis{
			{Name: "os", Values: []string{"a"}},
			{Name: "os", Values: []string{"b"}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := &domain.PipelineSpec{
				Jobs: []domain.JobSpec{
					{ID: "j", Matrix: tc.axes, Tasks: []domain.TaskSpec{{ID: "t", Uses: "delay"}}},
				},
			}
			_, err := BuildGraph(spec)
			if !errors.Is(err, ErrInvalidMatrix) {
				t.Fatalf("expected ErrInvalidMatrix, got %v", err)
			}
		})
	}
}

func TestExpandMatrix_Empty(t *testing.T) {
	coords := ExpandMatrix(nil)
	if len(coords) != 1 || len(coords[0]) != 0 {
		t.Fatalf("empty matrix should expand to single empty coordinate, got %v", coords)
	}
}

func TestFrontier_RespectsStatuses(t *testing.T) {
	spec := &domain.PipelineSpec{
		Jobs: []domain.JobSpec{
			job("a"),
			job("b", "a"),
			job("c", "b"),
		},
	}

	g, err := BuildGraph(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rc := NewRunContext(nil)
	rc.Register("a", []string{"a"})
	rc.Register("b", []string{"b"})
	rc.Register("c", []string{"c"})

	front := g.Frontier(rc)
	if len(front) != 1 || front[0].Key != "a" {
		t.Fatalf("initial frontier should be [a], got %v", keysOf(front))
	}

	rc.SetStatus("a", domain.JobStatusSucceeded)
	front = g.Frontier(rc)
	if len(front) != 1 || front[0].Key != "b" {
		t.Fatalf("frontier after a should be [b], got %v", keysOf(front))
	}

	if g.IsComplete(rc) {
		t.Error("graph should not be complete")
	}

	rc.SetStatus("b", domain.JobStatusFailed)
	rc.SetStatus("c", domain.JobStatusSkipped)
	if !g.IsComplete(rc) {
		t.Error("graph should be complete once all instances are terminal")
	}
}

func keysOf(nodes []*Node) []string {
	keys := make([]string, len(nodes))
	for i, n := range nodes {
		keys[i] = n.Key
	}
	return keys
}
