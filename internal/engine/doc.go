// Package engine содержит движок выполнения pipeline.
//
// Включает:
//   - validate.go  — валидация PipelineSpec и входных параметров триггера
//   - graph.go     — раскрытие matrix и построение DAG job-инстансов
//   - expr.go      — вычисление выражений ${{ }} (закрытая грамматика)
//   - condition.go — условия выполнения jobs и tasks
//   - context.go   — состояние run: статусы инстансов и write-once outputs
//   - scheduler.go — диспетчеризация с ограничением параллелизма
//   - engine.go    — выполнение run целиком и сборка RunReport
//
// Engine детерминированно строит граф инстансов из спецификации и
// выполняет его до терминального состояния. Все сервисы (orchestrator,
// worker, CLI-режим run local) используют одну и ту же семантику отсюда.
package engine
