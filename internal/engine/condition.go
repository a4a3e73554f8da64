package engine

import (
	"strings"

	"github.com/mkraev/Conveyor/internal/domain"
)

// ConditionKind — вид условия выполнения job.
type ConditionKind int

const (
	// CondOnSuccess — выполнять, когда все зависимости успешны (по умолчанию).
	CondOnSuccess ConditionKind = iota

	// CondOnFailure — выполнять, когда упала хотя бы одна зависимость
	// в цепочке needs, в том числе транзитивная. Так описываются
	// компенсирующие (rollback) jobs.
	CondOnFailure

	// CondAlways — выполнять независимо от исхода зависимостей.
	CondAlways

	// CondCustom — произвольное выражение.
	CondCustom
)

// Condition — условие выполнения job или task.
//
// Явные тегированные варианты вместо текстовой подстановки:
// rollback и обычные jobs проходят один и тот же путь планирования,
// различаясь только значением условия.
type Condition struct {
	Kind ConditionKind
	Expr string // исходное выражение (для CondCustom и диагностики)
}

// ParseCondition разбирает строку условия в тегированный вариант.
// Пустая строка — CondOnSuccess. Обёртка "${{ }}" допустима и
// снимается перед разбором.
func ParseCondition(s string) Condition {
	trimmed := exprOf(s)

	switch strings.ReplaceAll(trimmed, " ", "") {
	case "":
		return Condition{Kind: CondOnSuccess}
	case "success()":
		return Condition{Kind: CondOnSuccess, Expr: trimmed}
	case "failure()":
		return Condition{Kind: CondOnFailure, Expr: trimmed}
	case "always()":
		return Condition{Kind: CondAlways, Expr: trimmed}
	}

	return Condition{Kind: CondCustom, Expr: trimmed}
}

// Evaluate вычисляет условие против Scope.
func (c Condition) Evaluate(scope *Scope) (bool, error) {
	switch c.Kind {
	case CondAlways:
		return true, nil

	case CondOnSuccess:
		for _, s := range scope.DepStatuses() {
			if s != domain.JobStatusSucceeded {
				return false, nil
			}
		}
		return true, nil

	case CondOnFailure:
		for _, s := range scope.DepStatuses() {
			if s == domain.JobStatusFailed {
				return true, nil
			}
		}
		return false, nil
	}

	return EvalBool(c.Expr, scope)
}

// IsAlways возвращает true для always()-условия.
// Jobs с таким условием не учитываются при вычислении итогового
// статуса run.
func (c Condition) IsAlways() bool {
	return c.Kind == CondAlways
}
