package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const (
	// PluginTypeCommand — тип task выполнения команды.
	PluginTypeCommand = "command"

	// Ключи параметров command.
	paramRun   = "run"
	paramShell = "shell"
	paramDir   = "dir"
	paramEnv   = "env"

	// outputMarker — префикс строки публикации output в stdout.
	outputMarker = "::set-output "

	maxCommandLog = 1 * 1024 * 1024 // 1 MB
)

// CommandPlugin — task выполнения shell-команды.
//
// Запускает команду через shell (по умолчанию /bin/sh -c), собирает
// stdout и stderr в лог. Task публикует outputs, печатая в stdout
// строки вида:
//
//	::set-output tag=v1.4.2
//
// Параметры:
//
//	{
//	    "run": "make build && echo ::set-output tag=$(git describe)",
//	    "shell": "/bin/bash",
//	    "dir": "/src/app",
//	    "env": {"GOOS": "linux"}
//	}
//
// Ненулевой код выхода — ошибка выполнения task.
type CommandPlugin struct{}

// NewCommandPlugin создаёт CommandPlugin.
func NewCommandPlugin() *CommandPlugin {
	return &CommandPlugin{}
}

// Type возвращает тип плагина.
func (p *CommandPlugin) Type() string {
	return PluginTypeCommand
}

// Execute выполняет команду.
func (p *CommandPlugin) Execute(ctx context.Context, req *Request) (*Response, error) {
	run := ParamString(req.Params, paramRun)
	if run == "" {
		return nil, fmt.Errorf("%w: %s: run is required", ErrInvalidParams, PluginTypeCommand)
	}

	shell := ParamString(req.Params, paramShell)
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", run)
	cmd.Dir = ParamString(req.Params, paramDir)

	if env := ParamStringMap(req.Params, paramEnv); len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	log := truncate(buf.String(), maxCommandLog)

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTaskCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("command failed: %w\n%s", err, tail(log, 2048))
	}

	return &Response{
		Outputs: parseOutputs(log),
		Log:     log,
	}, nil
}

// parseOutputs извлекает публикации outputs из stdout команды.
func parseOutputs(log string) map[string]string {
	outputs := make(map[string]string)
	for _, line := range strings.Split(log, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, outputMarker) {
			continue
		}
		kv := strings.TrimPrefix(line, outputMarker)
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		outputs[strings.TrimSpace(key)] = value
	}
	return outputs
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
