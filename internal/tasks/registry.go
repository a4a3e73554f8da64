package tasks

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mkraev/Conveyor/internal/engine"
)

// Registry — реестр типов task.
//
// Позволяет регистрировать и получать реализации Plugin по типу.
// Потокобезопасен.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// DefaultRegistry создаёт реестр со всеми стандартными плагинами.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(NewDelayPlugin())
	r.Register(NewHTTPPlugin())
	r.Register(NewCommandPlugin())

	return r
}

// Register регистрирует плагин в реестре.
// Плагин с существующим типом перезаписывается.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Type()] = p
}

// Get возвращает плагин по типу.
// Неизвестный тип — engine.ErrUnknownTaskPlugin.
func (r *Registry) Get(pluginType string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.plugins[pluginType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownTaskPlugin, pluginType)
	}

	return p, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(pluginType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.plugins[pluginType]
	return exists
}

// Types возвращает список всех зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.plugins))
	for t := range r.plugins {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count возвращает количество зарегистрированных плагинов.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
