// Package api — HTTP API для управления Conveyor.
//
// Предоставляет REST-интерфейс поверх net/http (Go 1.22+ маршрутизация
// с методами и path-параметрами):
//
//   - CRUD pipelines и их версий (спецификация проверяется при создании версии);
//   - запуск runs вручную, отмена, просмотр job-инстансов и итогового отчёта;
//   - управление расписаниями.
//
// Запись в очередь (run.pending, run.cancel) — best effort: если брокер
// недоступен, оркестратор подхватывает PENDING runs через polling.
package api
