// Package tasks содержит реализации типов task и выполнение jobs.
//
// # Обзор
//
// Task — минимальная единица работы внутри job. Каждый тип task:
//   - Получает параметры (уже разрешённые через engine.ResolveParams)
//   - Выполняет действие (команда, HTTP запрос, задержка)
//   - Возвращает outputs для публикации в Output Store
//
// # Интерфейс Plugin
//
// Все типы task реализуют интерфейс Plugin:
//
//	type Plugin interface {
//	    Type() string
//	    Execute(ctx context.Context, req *Request) (*Response, error)
//	}
//
// # Registry
//
// Registry — фабрика для получения Plugin по значению uses:
//
//	registry := tasks.DefaultRegistry()  // command, http, delay
//	plugin, err := registry.Get("http")
//
// # Типы task
//
// ## Command (command.go)
//
// Выполняет shell-команду и собирает stdout/stderr в лог job.
// Outputs публикуются строками "::set-output key=value" в stdout.
//
// ## HTTP (http.go)
//
// HTTP запрос: деплой-webhook, уведомление, health-check.
// Outputs: status_code, body.
//
// ## Delay (delay.go)
//
// Пауза. Параметры: duration_sec или duration_ms.
//
// # Runner
//
// Runner выполняет job-инстанс целиком: tasks последовательно,
// с условиями, таймаутами и контролем объявленных outputs.
// Реализует engine.JobRunner и используется worker'ом и режимом
// run local в CLI. Retry-политика применяется уровнем выше.
package tasks
