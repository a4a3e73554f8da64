package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Обменники Conveyor.
const (
	ExchangeRuns Exchange = "conveyor.runs"
	ExchangeJobs Exchange = "conveyor.jobs"
	ExchangeDLQ  Exchange = "conveyor.dlq"
)

// Очереди Conveyor.
const (
	QueueRunsPending   Queue = "runs.pending"
	QueueRunsCancel    Queue = "runs.cancel"
	QueueJobsReady     Queue = "jobs.ready"
	QueueJobsCompleted Queue = "jobs.completed"
	QueueDLQJobs       Queue = "dlq.jobs"
)

// Ключи маршрутизации.
const (
	RoutingKeyPending   RoutingKey = "pending"
	RoutingKeyCancel    RoutingKey = "cancel"
	RoutingKeyReady     RoutingKey = "ready"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQJobs   RoutingKey = "jobs"
)

// binding — одна очередь с её обменником и ключом маршрутизации.
type binding struct {
	queue    Queue
	exchange Exchange
	key      RoutingKey

	// deadLetter направляет отклонённые сообщения в DLQ.
	// Включён только для jobs.ready: потерянный job.ready оставит
	// инстанс в READY, а события runs.* и jobs.completed orchestrator
	// восстанавливает из БД при reconcile.
	deadLetter bool
}

// bindings — вся топология событий Conveyor.
//
//	conveyor.runs  → runs.pending, runs.cancel   (consumer: orchestrator)
//	conveyor.jobs  → jobs.ready                  (consumer: worker, DLQ)
//	               → jobs.completed              (consumer: orchestrator)
//	conveyor.dlq   → dlq.jobs                    (ручной разбор)
var bindings = []binding{
	{queue: QueueRunsPending, exchange: ExchangeRuns, key: RoutingKeyPending},
	{queue: QueueRunsCancel, exchange: ExchangeRuns, key: RoutingKeyCancel},
	{queue: QueueJobsReady, exchange: ExchangeJobs, key: RoutingKeyReady, deadLetter: true},
	{queue: QueueJobsCompleted, exchange: ExchangeJobs, key: RoutingKeyCompleted},
	{queue: QueueDLQJobs, exchange: ExchangeDLQ, key: RoutingKeyDLQJobs},
}

// declareTopology объявляет обменники, очереди и привязки.
// Вызывается при каждом подключении: объявления идемпотентны,
// поэтому сервисы могут стартовать в любом порядке.
func declareTopology(ch *amqp.Channel) error {
	for _, ex := range []Exchange{ExchangeRuns, ExchangeJobs, ExchangeDLQ} {
		if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	for _, b := range bindings {
		var args amqp.Table
		if b.deadLetter {
			args = amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
			}
		}

		if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(string(b.queue), string(b.key), string(b.exchange), false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
