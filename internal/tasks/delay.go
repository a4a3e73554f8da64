package tasks

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	// PluginTypeDelay — тип task задержки.
	PluginTypeDelay = "delay"

	// Ключи параметров delay.
	paramDurationSec = "duration_sec"
	paramDurationMs  = "duration_ms"
)

// DelayPlugin — task задержки.
//
// Приостанавливает выполнение на указанное время.
// Поддерживает graceful shutdown через context cancellation.
//
// Параметры:
//
//	{
//	    "duration_sec": 10,    // задержка в секундах
//	    // или
//	    "duration_ms": 5000    // задержка в миллисекундах
//	}
type DelayPlugin struct{}

// NewDelayPlugin создаёт DelayPlugin.
func NewDelayPlugin() *DelayPlugin {
	return &DelayPlugin{}
}

// Type возвращает тип плагина.
func (p *DelayPlugin) Type() string {
	return PluginTypeDelay
}

// Execute выполняет задержку.
func (p *DelayPlugin) Execute(ctx context.Context, req *Request) (*Response, error) {
	duration, err := p.parseDuration(req.Params)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTaskCancelled, ctx.Err())
	case <-timer.C:
		return &Response{
			Outputs: map[string]string{
				"duration_ms": strconv.FormatInt(duration.Milliseconds(), 10),
			},
		}, nil
	}
}

// parseDuration извлекает длительность из параметров.
func (p *DelayPlugin) parseDuration(params map[string]any) (time.Duration, error) {
	if sec := ParamInt(params, paramDurationSec); sec > 0 {
		return time.Duration(sec) * time.Second, nil
	}
	if ms := ParamInt(params, paramDurationMs); ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("%w: %s: duration_sec or duration_ms required",
		ErrInvalidParams, PluginTypeDelay)
}
