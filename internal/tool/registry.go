package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"dnswatch/internal/domain"
)

// ErrUnknownTool is returned when a call names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Dispatch outcome labels passed to DispatchHook.
const (
	StatusOK      = "ok"
	StatusUnknown = "unknown"
	StatusBadArgs = "bad_args"
	StatusError   = "error"
)

// DispatchHook observes every dispatched call.
type DispatchHook func(name, status string, elapsed time.Duration)

// Registry holds all available tools and executes them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	hooks  []DispatchHook
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger.Named("tools"),
	}
}

func (r *Registry) Register(t domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", zap.String("name", t.Name()))
}

// OnDispatch adds a hook called after every Dispatch.
func (r *Registry) OnDispatch(h DispatchHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	t := r.Get(name)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Execute(ctx, args)
}

// Dispatch runs a tool call and always produces a result. Failures become a
// JSON object with a single "error" field so the conversation can continue.
func (r *Registry) Dispatch(ctx context.Context, tc domain.ToolCall) domain.ToolResult {
	start := time.Now()

	var (
		out any
		err error
	)
	if tc.Arguments == nil && tc.RawArguments != "" {
		err = &ArgsError{Msg: "arguments are not a JSON object"}
	} else {
		out, err = r.Execute(ctx, tc.Name, tc.Arguments)
	}

	status := StatusOK
	var argsErr *ArgsError
	switch {
	case errors.Is(err, ErrUnknownTool):
		status = StatusUnknown
		out = errorResult(fmt.Sprintf("Unknown tool '%s'", tc.Name))
	case errors.As(err, &argsErr):
		status = StatusBadArgs
		out = errorResult("Bad args: " + argsErr.Msg)
	case err != nil:
		status = StatusError
		out = errorResult(err.Error())
	}

	data, mErr := json.Marshal(out)
	if mErr != nil {
		status = StatusError
		data, _ = json.Marshal(errorResult(fmt.Sprintf("encode result: %v", mErr)))
	}

	elapsed := time.Since(start)
	fields := []zap.Field{
		zap.String("tool", tc.Name),
		zap.String("call_id", tc.ID),
		zap.String("status", status),
		zap.Duration("elapsed", elapsed),
	}
	if status == StatusOK {
		r.logger.Info("tool call", fields...)
	} else {
		r.logger.Warn("tool call", append(fields, zap.Error(err))...)
	}

	r.mu.RLock()
	hooks := r.hooks
	r.mu.RUnlock()
	for _, h := range hooks {
		h(tc.Name, status, elapsed)
	}

	return domain.ToolResult{
		ID:      tc.ID,
		Name:    tc.Name,
		Content: string(data),
		Failed:  status != StatusOK,
	}
}

// Definitions returns the tool schemas sorted by name.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func errorResult(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if required == nil {
		required = []string{}
	}
	schema["required"] = required
	return schema
}
