package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrMalformedEvent — событие не удалось декодировать.
// Повторная доставка не поможет: сообщение уходит в DLQ без requeue.
var ErrMalformedEvent = errors.New("malformed event")

// Consumer потребляет события одной очереди Conveyor.
//
// Payload события декодируется в конкретный тип до вызова обработчика,
// поэтому обработчики оркестратора и worker работают с типизированными
// событиями (RunPendingPayload, JobReadyPayload и т.д.), а не с сырыми
// сообщениями. Судьба события решается по ошибке обработчика:
//
//   - nil — ack;
//   - ErrMalformedEvent — сразу в DLQ, декодирование не повторяется;
//   - прочие ошибки — requeue один раз, повторная неудача — в DLQ,
//     чтобы отравленное событие не крутило очередь.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	prefetch int

	// dispatch декодирует payload и вызывает типизированный обработчик.
	dispatch func(ctx context.Context, body []byte) error

	cancelFunc context.CancelFunc
}

// NewConsumer создаёт consumer очереди queue с типизированным
// обработчиком payload T.
func NewConsumer[T any](conn *Connection, logger *slog.Logger, queue Queue, prefetch int, handler func(ctx context.Context, payload T) error) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}

	c := &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    queue,
		prefetch: prefetch,
	}

	c.dispatch = func(ctx context.Context, body []byte) error {
		var env Message
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}

		payload, err := decodePayload[T](&env)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}

		logger.Debug("event received", "queue", queue, "type", env.Type, "message_id", env.ID)
		return handler(ctx, payload)
	}

	return c
}

// Start запускает цикл потребления. Блокируется до отмены контекста,
// переживая разрывы соединения с брокером.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("subscribe failed", "queue", c.queue, "error", err)
			if err := c.awaitReconnect(ctx); err != nil {
				return err
			}
			continue
		}

		c.logger.Info("consuming", "queue", c.queue, "prefetch", c.prefetch)

		if err := c.drain(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("delivery stream closed", "queue", c.queue)
			if err := c.awaitReconnect(ctx); err != nil {
				return err
			}
		}
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// subscribe выставляет prefetch и подписывается на очередь.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(string(c.queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return deliveries, nil
}

// awaitReconnect ждёт восстановления соединения или отмены контекста.
func (c *Consumer) awaitReconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.ReconnectNotify():
		c.logger.Info("resubscribing after reconnect", "queue", c.queue)
		return nil
	}
}

// drain обрабатывает события до закрытия потока доставки.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			c.settle(ctx, raw)
		}
	}
}

// settle вызывает обработчик и решает судьбу события.
func (c *Consumer) settle(ctx context.Context, raw amqp.Delivery) {
	err := c.dispatch(ctx, raw.Body)

	switch {
	case err == nil:
		raw.Ack(false)

	case errors.Is(err, ErrMalformedEvent):
		c.logger.Error("dropping malformed event",
			"queue", c.queue,
			"error", err,
			"body", string(raw.Body),
		)
		raw.Nack(false, false)

	case raw.Redelivered:
		// Второй заход уже был — в DLQ
		c.logger.Error("dropping event after redelivery",
			"queue", c.queue,
			"error", err,
		)
		raw.Nack(false, false)

	default:
		c.logger.Warn("event handler failed, requeueing",
			"queue", c.queue,
			"error", err,
		)
		raw.Nack(false, true)
	}
}

// decodePayload декодирует payload конверта в тип T.
func decodePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
