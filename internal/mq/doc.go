// Package mq предоставляет обмен событиями Conveyor через RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect, publisher confirms
//     и объявлением топологии при каждом подключении
//   - topology.go   — exchanges, queues, bindings событий run/job
//   - publisher.go  — типизированные события и их публикация
//   - consumer.go   — потребление с типизированными обработчиками
//
// Типы сообщений:
//   - run.pending    — новый run ожидает выполнения
//   - run.cancel     — запрошена отмена run
//   - job.ready      — job-инстанс готов к выполнению
//   - job.completed  — job-инстанс завершён
//
// Exchanges:
//   - conveyor.runs  — события runs
//   - conveyor.jobs  — события job-инстансов
//   - conveyor.dlq   — dead letter queue
package mq
