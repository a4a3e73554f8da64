package engine

import (
	"fmt"
	"strings"

	"github.com/mkraev/Conveyor/internal/domain"
)

// Node — один job-инстанс в графе.
type Node struct {
	// Spec — определение job из PipelineSpec.
	Spec *domain.JobSpec

	// Key — ключ инстанса (JobID или "JobID[v1,v2]").
	Key string

	// JobID — ID job из спецификации.
	JobID string

	// Coordinate — координата matrix. Пустая для одиночных jobs.
	Coordinate map[string]string

	// Condition — разобранное условие выполнения.
	Condition Condition

	// DependsOn — инстансы, от которых зависит этот.
	DependsOn []*Node

	// Dependents — инстансы, которые зависят от этого.
	Dependents []*Node

	// InDegree — количество входящих рёбер.
	InDegree int
}

// JobGraph — DAG job-инстансов одного pipeline.
//
// Строится из PipelineSpec при старте run: matrix-jobs раскрываются
// в декартово произведение осей, needs превращаются в рёбра между
// всеми инстансами зависимых jobs. Граф неизменяем после построения.
type JobGraph struct {
	// Nodes — все инстансы (instance key → Node).
	Nodes map[string]*Node

	// ByJob — инстансы каждого job в порядке раскрытия matrix.
	ByJob map[string][]*Node

	// RootNodes — инстансы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — детерминированный порядок инстансов
	// (порядок объявления jobs, внутри job — порядок раскрытия matrix).
	Order []*Node
}

// BuildGraph строит JobGraph из PipelineSpec.
//
// Выполняет все проверки построения (ошибки графа описаны в errors.go):
// дубликаты ID, неизвестные зависимости, циклы, некорректные matrix,
// статическую проверку ссылок на outputs. Любая ошибка фатальна:
// run не стартует, ни один инстанс не планируется.
func BuildGraph(spec *domain.PipelineSpec) (*JobGraph, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	g := &JobGraph{
		Nodes: make(map[string]*Node),
		ByJob: make(map[string][]*Node),
	}

	// Первый проход: раскрываем matrix и создаём инстансы
	for i := range spec.Jobs {
		job := &spec.Jobs[i]
		if err := g.addJob(job); err != nil {
			return nil, err
		}
	}

	// Второй проход: связываем инстансы по needs
	for i := range spec.Jobs {
		job := &spec.Jobs[i]
		if err := g.linkNeeds(job); err != nil {
			return nil, err
		}
	}

	g.findRootNodes()

	// Проверяем на циклы (DFS с именованием цикла)
	if err := g.detectCycle(); err != nil {
		return nil, err
	}

	// Детерминированный порядок: jobs в порядке объявления,
	// инстансы в порядке раскрытия matrix
	for i := range spec.Jobs {
		g.Order = append(g.Order, g.ByJob[spec.Jobs[i].ID]...)
	}

	return g, nil
}

// addJob раскрывает matrix job в инстансы и добавляет их в граф.
func (g *JobGraph) addJob(job *domain.JobSpec) error {
	coords := ExpandMatrix(job.Matrix)

	for _, coord := range coords {
		key := domain.InstanceKey(job.ID, coord)

		// Дедупликация одинаковых координат
		if _, exists := g.Nodes[key]; exists {
			continue
		}

		node := &Node{
			Spec:       job,
			Key:        key,
			JobID:      job.ID,
			Coordinate: coord,
			Condition:  ParseCondition(job.If),
		}
		g.Nodes[key] = node
		g.ByJob[job.ID] = append(g.ByJob[job.ID], node)
	}

	return nil
}

// ExpandMatrix раскрывает оси matrix в декартово произведение координат.
//
// Порядок детерминирован: лексикографический по порядку объявления осей
// (первая ось — старший разряд). Для пустой matrix возвращает одну
// пустую координату.
func ExpandMatrix(axes []domain.Axis) []map[string]string {
	coords := []map[string]string{{}}

	for _, axis := range axes {
		next := make([]map[string]string, 0, len(coords)*len(axis.Values))
		for _, base := range coords {
			for _, value := range axis.Values {
				coord := make(map[string]string, len(base)+1)
				for k, v := range base {
					coord[k] = v
				}
				coord[axis.Name] = value
				next = append(next, coord)
			}
		}
		coords = next
	}

	return coords
}

// linkNeeds связывает все инстансы job со всеми инстансами его зависимостей.
func (g *JobGraph) linkNeeds(job *domain.JobSpec) error {
	for _, depID := range job.Needs {
		depNodes, ok := g.ByJob[depID]
		if !ok {
			return NewGraphError(job.ID, "needs",
				fmt.Sprintf("needs unknown job: %s", depID), ErrUnknownDependency)
		}

		for _, node := range g.ByJob[job.ID] {
			for _, dep := range depNodes {
				g.addEdge(dep, node)
			}
		}
	}
	return nil
}

// addEdge добавляет ребро между инстансами.
// Дубликаты рёбер игнорируются, чтобы не задваивать InDegree.
func (g *JobGraph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.Key == from.Key {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит инстансы без входящих рёбер.
func (g *JobGraph) findRootNodes() {
	g.RootNodes = g.RootNodes[:0]
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.RootNodes = append(g.RootNodes, node)
		}
	}
}

// detectCycle ищет цикл обходом в глубину.
// При обнаружении возвращает ErrCyclicDependency с перечислением
// jobs, образующих цикл.
func (g *JobGraph) detectCycle() error {
	const (
		white = 0 // не посещён
		grey  = 1 // в текущем пути
		black = 2 // обработан
	)

	// Циклы возможны только на уровне jobs, поэтому обходим по одному
	// инстансу каждого job.
	color := make(map[string]int)
	var path []string

	var visit func(jobID string) []string
	visit = func(jobID string) []string {
		color[jobID] = grey
		path = append(path, jobID)

		nodes := g.ByJob[jobID]
		if len(nodes) > 0 {
			for _, dep := range nodes[0].DependsOn {
				switch color[dep.JobID] {
				case white:
					if cycle := visit(dep.JobID); cycle != nil {
						return cycle
					}
				case grey:
					// Цикл: отрезаем путь от первого вхождения dep.JobID
					for i, id := range path {
						if id == dep.JobID {
							return append(path[i:], dep.JobID)
						}
					}
				}
			}
		}

		path = path[:len(path)-1]
		color[jobID] = black
		return nil
	}

	for jobID := range g.ByJob {
		if color[jobID] == white {
			if cycle := visit(jobID); cycle != nil {
				return NewGraphError(cycle[0], "needs",
					fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
					ErrCyclicDependency)
			}
		}
	}

	return nil
}

// Frontier возвращает инстансы, у которых все зависимости терминальны,
// а сами они ещё не отправлены на выполнение (PENDING или BLOCKED).
//
// Условие выполнения НЕ проверяется здесь: его вычисляет планировщик,
// чтобы ложное условие немедленно перевести инстанс в SKIPPED.
func (g *JobGraph) Frontier(ctx *RunContext) []*Node {
	var frontier []*Node

	for _, node := range g.Order {
		status, _ := ctx.Status(node.Key)
		if status != domain.JobStatusPending && status != domain.JobStatusBlocked {
			continue
		}

		allTerminal := true
		for _, dep := range node.DependsOn {
			depStatus, _ := ctx.Status(dep.Key)
			if !depStatus.IsTerminal() {
				allTerminal = false
				break
			}
		}

		if allTerminal {
			frontier = append(frontier, node)
		}
	}

	return frontier
}

// IsComplete возвращает true, когда все инстансы терминальны.
func (g *JobGraph) IsComplete(ctx *RunContext) bool {
	for _, node := range g.Order {
		status, _ := ctx.Status(node.Key)
		if !status.IsTerminal() {
			return false
		}
	}
	return true
}

// Size возвращает количество инстансов в графе.
func (g *JobGraph) Size() int {
	return len(g.Nodes)
}

// Node возвращает инстанс по ключу.
func (g *JobGraph) Node(key string) *Node {
	return g.Nodes[key]
}

// Needs возвращает ID прямых зависимостей инстанса.
func (n *Node) Needs() []string {
	return n.Spec.Needs
}

// TransitiveNeeds возвращает ID всех jobs в цепочке needs инстанса,
// включая транзитивные. По ним вычисляются success()/failure():
// падение предка должно быть видно через пропущенные промежуточные
// jobs, иначе rollback за SKIPPED-звеном никогда не сработает.
//
// Порядок детерминирован: обход в глубину по порядку объявления needs.
func (n *Node) TransitiveNeeds() []string {
	seen := make(map[string]bool)
	var ids []string

	var visit func(node *Node)
	visit = func(node *Node) {
		for _, dep := range node.DependsOn {
			if seen[dep.JobID] {
				continue
			}
			seen[dep.JobID] = true
			ids = append(ids, dep.JobID)
			visit(dep)
		}
	}
	visit(n)

	return ids
}
