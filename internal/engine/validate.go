package engine

import (
	"fmt"
	"strings"

	"github.com/mkraev/Conveyor/internal/domain"
)

// Validate проверяет структурную корректность PipelineSpec.
//
// Проверки: непустой список jobs, уникальные непустые ID, непустые
// списки tasks, корректные matrix (непустые имена и значения осей,
// без дубликатов имён), ссылки needs на существующие jobs без
// самозависимостей, статическая проверка ссылок в выражениях.
// Циклы проверяет BuildGraph после связывания рёбер.
func Validate(spec *domain.PipelineSpec) error {
	if len(spec.Jobs) == 0 {
		return NewGraphError("", "jobs", "pipeline has no jobs", ErrEmptyJobs)
	}

	seen := make(map[string]bool, len(spec.Jobs))
	for i := range spec.Jobs {
		job := &spec.Jobs[i]

		if job.ID == "" {
			return NewGraphError("", "id", "job has empty id", ErrEmptyJobID)
		}
		if seen[job.ID] {
			return NewGraphError(job.ID, "id", "duplicate job id", ErrDuplicateJobID)
		}
		seen[job.ID] = true

		if len(job.Tasks) == 0 {
			return NewGraphError(job.ID, "tasks", "job has no tasks", ErrEmptyTasks)
		}
		for j := range job.Tasks {
			if job.Tasks[j].Uses == "" {
				return NewGraphError(job.ID, "tasks",
					fmt.Sprintf("task %d has empty uses", j), ErrEmptyTasks)
			}
		}

		if err := validateMatrix(job); err != nil {
			return err
		}
	}

	for i := range spec.Jobs {
		job := &spec.Jobs[i]

		depSet := make(map[string]bool, len(job.Needs))
		for _, dep := range job.Needs {
			if dep == job.ID {
				return NewGraphError(job.ID, "needs",
					"job depends on itself", ErrSelfDependency)
			}
			if !seen[dep] {
				return NewGraphError(job.ID, "needs",
					fmt.Sprintf("needs unknown job: %s", dep), ErrUnknownDependency)
			}
			depSet[dep] = true
		}

		if err := validateReferences(spec, job, depSet); err != nil {
			return err
		}
	}

	return nil
}

// validateMatrix проверяет определение matrix одного job.
func validateMatrix(job *domain.JobSpec) error {
	names := make(map[string]bool, len(job.Matrix))
	for _, axis := range job.Matrix {
		if axis.Name == "" {
			return NewGraphError(job.ID, "matrix",
				"matrix axis has empty name", ErrInvalidMatrix)
		}
		if names[axis.Name] {
			return NewGraphError(job.ID, "matrix",
				fmt.Sprintf("duplicate matrix axis: %s", axis.Name), ErrInvalidMatrix)
		}
		names[axis.Name] = true
		if len(axis.Values) == 0 {
			return NewGraphError(job.ID, "matrix",
				fmt.Sprintf("matrix axis %s has no values", axis.Name), ErrInvalidMatrix)
		}
	}
	return nil
}

// validateReferences выполняет статическую проверку ссылок `needs.*`
// во всех выражениях job: в условии job, в условиях и параметрах tasks.
//
// Правила: ссылка needs.X допустима только при X в прямых needs job;
// needs.X.outputs.K требует, чтобы какой-то task в X объявлял output K;
// ссылки на outputs matrix-job запрещены (инстансы производят
// независимые наборы значений, однозначная адресация невозможна).
func validateReferences(spec *domain.PipelineSpec, job *domain.JobSpec, deps map[string]bool) error {
	check := func(field, expr string) error {
		if expr == "" {
			return nil
		}
		refs, err := References(expr)
		if err != nil {
			return NewGraphError(job.ID, field, err.Error(), ErrExprSyntax)
		}
		for _, ref := range refs {
			if ref[0] != "needs" || len(ref) < 3 {
				continue
			}
			depID := ref[1]
			if !deps[depID] {
				return NewGraphError(job.ID, field,
					fmt.Sprintf("reference to %s which is not a declared dependency", depID),
					ErrUnknownDependency)
			}
			if len(ref) >= 4 && ref[2] == "outputs" {
				dep := spec.FindJob(depID)
				if dep.HasMatrix() {
					return NewGraphError(job.ID, field,
						fmt.Sprintf("cannot reference outputs of matrix job %s", depID),
						ErrMatrixOutputRef)
				}
				key := ref[3]
				if !dep.DeclaresOutput(key) {
					return NewGraphError(job.ID, field,
						fmt.Sprintf("job %s declares no output %q", depID, key),
						ErrUnknownOutputRef)
				}
			}
		}
		return nil
	}

	if err := check("if", exprOf(job.If)); err != nil {
		return err
	}
	for i := range job.Tasks {
		task := &job.Tasks[i]
		field := fmt.Sprintf("tasks[%d]", i)
		if err := check(field+".if", exprOf(task.If)); err != nil {
			return err
		}
		for name, value := range task.With {
			s, ok := value.(string)
			if !ok {
				continue
			}
			for _, expr := range extractExpressions(s) {
				if err := check(field+".with."+name, expr); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// exprOf возвращает выражение условия без обёртки ${{ }}, если она есть.
func exprOf(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "${{") && strings.HasSuffix(s, "}}") {
		return strings.TrimSpace(s[3 : len(s)-2])
	}
	return s
}

// extractExpressions извлекает все вставки ${{ ... }} из строки.
func extractExpressions(s string) []string {
	var exprs []string
	for {
		start := strings.Index(s, "${{")
		if start < 0 {
			return exprs
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			return exprs
		}
		exprs = append(exprs, strings.TrimSpace(s[start+3:start+end]))
		s = s[start+end+2:]
	}
}

// ValidateTriggerInputs проверяет входные параметры запуска по
// объявлениям в pipeline и возвращает нормализованную карту:
// отсутствующие необязательные параметры заполнены значениями
// по умолчанию.
//
// Ошибки: неизвестный параметр, отсутствующий обязательный параметр,
// значение вне списка choices, нечисловое значение для type=number,
// не-булево для type=boolean.
func ValidateTriggerInputs(triggers *domain.Triggers, provided map[string]string) (map[string]string, error) {
	var defs map[string]domain.InputDef
	if triggers != nil {
		defs = triggers.Inputs
	}

	for name := range provided {
		if _, ok := defs[name]; !ok {
			return nil, fmt.Errorf("input %q: %w", name, ErrUnknownTriggerInput)
		}
	}

	normalized := make(map[string]string, len(defs))
	for name, def := range defs {
		value, ok := provided[name]
		if !ok {
			if def.Default == "" {
				if def.Required {
					return nil, fmt.Errorf("input %q: %w", name, ErrMissingTriggerInput)
				}
				// Необязательный параметр без значения по умолчанию
				// в run не попадает
				continue
			}
			value = def.Default
		}

		if err := checkInputValue(name, value, def); err != nil {
			return nil, err
		}
		normalized[name] = value
	}

	return normalized, nil
}

func checkInputValue(name, value string, def domain.InputDef) error {
	if len(def.Choices) > 0 {
		found := false
		for _, c := range def.Choices {
			if c == value {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("input %q: value %q is not one of %v: %w",
				name, value, def.Choices, ErrInvalidTriggerInput)
		}
	}

	switch def.Type {
	case "number":
		if !isNumeric(value) {
			return fmt.Errorf("input %q: value %q is not a number: %w",
				name, value, ErrInvalidTriggerInput)
		}
	case "boolean":
		if value != "true" && value != "false" {
			return fmt.Errorf("input %q: value %q is not a boolean: %w",
				name, value, ErrInvalidTriggerInput)
		}
	}
	return nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' {
		s = s[1:]
	}
	dot := false
	for _, r := range s {
		if r == '.' {
			if dot {
				return false
			}
			dot = true
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
