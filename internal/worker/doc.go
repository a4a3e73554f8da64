// Package worker — исполнитель job-инстансов.
//
// Worker потребляет очередь jobs.ready, загружает инстанс и версию
// pipeline из БД, строит область видимости выражений из состояния run
// (inputs, статусы и outputs завершённых зависимостей) и выполняет
// tasks инстанса последовательно через реестр плагинов (internal/tasks).
//
// Результат (SUCCEEDED/FAILED, outputs, логи) сохраняется в БД и
// публикуется в очередь jobs.completed для Orchestrator. Повторные
// попытки планирует Orchestrator; Worker лишь выдерживает backoff
// перед выполнением attempt > 1.
//
// Worker горизонтально масштабируем: экземпляры не разделяют
// состояние и конкурируют за сообщения одной очереди.
package worker
