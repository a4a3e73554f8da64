package tasks

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Ошибки плагинов.
var (
	// ErrInvalidParams — невалидные параметры task.
	ErrInvalidParams = errors.New("invalid task params")

	// ErrTaskCancelled — выполнение task отменено.
	ErrTaskCancelled = errors.New("task execution cancelled")
)

// Plugin — интерфейс типа task.
//
// Каждый тип task (http, command, delay) реализует этот интерфейс.
type Plugin interface {
	// Type возвращает тип task (значение uses в спецификации).
	Type() string

	// Execute выполняет task и возвращает результат.
	// Плагин должен проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — входные данные для выполнения task.
type Request struct {
	// TaskID — идентификатор task внутри job.
	TaskID string

	// Params — параметры task (уже разрешённые через engine.ResolveParams).
	Params map[string]any

	// Timeout — таймаут выполнения task.
	// 0 — без ограничения.
	Timeout time.Duration
}

// Response — результат выполнения task.
type Response struct {
	// Outputs — значения outputs, опубликованные task.
	// Скалярные строки: составные значения сериализует сам плагин.
	Outputs map[string]string

	// Log — накопленный лог выполнения.
	Log string
}

// NewRequest создаёт Request.
func NewRequest(taskID string, params map[string]any, timeout time.Duration) *Request {
	if params == nil {
		params = make(map[string]any)
	}
	return &Request{TaskID: taskID, Params: params, Timeout: timeout}
}

// EmptyResponse возвращает пустой Response.
func EmptyResponse() *Response {
	return &Response{Outputs: make(map[string]string)}
}

// ParamString извлекает строковое значение из параметров.
func ParamString(params map[string]any, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ParamInt извлекает числовое значение из параметров.
func ParamInt(params map[string]any, key string) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case string:
			// Значение могло прийти из интерполяции
			if i, err := strconv.Atoi(n); err == nil {
				return i
			}
		}
	}
	return 0
}

// ParamBool извлекает булево значение из параметров.
func ParamBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// ParamStringMap извлекает map[string]string из параметров.
func ParamStringMap(params map[string]any, key string) map[string]string {
	if v, ok := params[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}

// ParamStrings извлекает список строк из параметров.
func ParamStrings(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}
