package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dnswatch/internal/domain"
)

// stubTool is a minimal tool for testing the registry.
type stubTool struct {
	name   string
	result any
	err    error
	got    map[string]any
}

func (s *stubTool) Name() string               { return s.name }
func (s *stubTool) Description() string        { return "stub: " + s.name }
func (s *stubTool) Parameters() map[string]any { return ToolParameters(map[string]Param{}, nil) }
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	s.got = args
	return s.result, s.err
}

var _ domain.Tool = (*stubTool)(nil)

func decodeContent(t *testing.T, res domain.ToolResult) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content), &m), res.Content)
	return m
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(&stubTool{name: "test_tool"})

	got := reg.Get("test_tool")
	require.NotNil(t, got)
	assert.Equal(t, "test_tool", got.Name())
	assert.Nil(t, reg.Get("nonexistent"))
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	_, err := reg.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestRegistry_OverwriteRegistration(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(&stubTool{name: "dup", result: "v1"})
	reg.Register(&stubTool{name: "dup", result: "v2"})

	result, err := reg.Execute(context.Background(), "dup", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", result)
}

func TestRegistry_NamesAndDefinitionsSorted(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	for _, n := range []string{"gamma", "alpha", "beta"} {
		reg.Register(&stubTool{name: n})
	}

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, reg.Names())
	defs := reg.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "gamma", defs[2].Name)
	assert.Equal(t, "stub: beta", defs[1].Description)
}

// --- Dispatch ---

func TestDispatch_SerializesResult(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	stub := &stubTool{name: "get_last_ip", result: map[string]string{"ip": "10.0.0.4"}}
	reg.Register(stub)

	res := reg.Dispatch(context.Background(), domain.ToolCall{ID: "call_1", Name: "get_last_ip", Arguments: map[string]any{"x": 1.0}})

	assert.Equal(t, "call_1", res.ID)
	assert.Equal(t, "get_last_ip", res.Name)
	assert.False(t, res.Failed)
	assert.JSONEq(t, `{"ip":"10.0.0.4"}`, res.Content)
	assert.Equal(t, map[string]any{"x": 1.0}, stub.got)
}

func TestDispatch_UnknownTool(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	res := reg.Dispatch(context.Background(), domain.ToolCall{ID: "c", Name: "rm_rf"})

	assert.True(t, res.Failed)
	assert.Equal(t, `{"error":"Unknown tool 'rm_rf'"}`, res.Content)
}

func TestDispatch_ToolErrorBecomesErrorResult(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(&stubTool{name: "git_commit_push", err: errors.New("git push origin main: exit status 128")})

	res := reg.Dispatch(context.Background(), domain.ToolCall{ID: "c", Name: "git_commit_push"})

	assert.True(t, res.Failed)
	assert.Equal(t, "git push origin main: exit status 128", decodeContent(t, res)["error"])
}

func TestDispatch_ArgsErrorBecomesBadArgs(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(&stubTool{name: "t", err: &ArgsError{Msg: "ip is required"}})

	res := reg.Dispatch(context.Background(), domain.ToolCall{ID: "c", Name: "t"})
	assert.Equal(t, "Bad args: ip is required", decodeContent(t, res)["error"])
}

func TestDispatch_InvalidJSONArguments(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	stub := &stubTool{name: "t", result: "never"}
	reg.Register(stub)

	res := reg.Dispatch(context.Background(), domain.ToolCall{ID: "c", Name: "t", RawArguments: `{"ip": `})

	assert.True(t, res.Failed)
	assert.Contains(t, decodeContent(t, res)["error"], "Bad args:")
	assert.Nil(t, stub.got, "tool must not run")
}

func TestDispatch_HooksAndLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	reg := NewRegistry(zap.New(core))
	reg.Register(&stubTool{name: "ok", result: true})

	type seen struct {
		name, status string
	}
	var calls []seen
	reg.OnDispatch(func(name, status string, _ time.Duration) {
		calls = append(calls, seen{name, status})
	})

	reg.Dispatch(context.Background(), domain.ToolCall{ID: "1", Name: "ok"})
	reg.Dispatch(context.Background(), domain.ToolCall{ID: "2", Name: "nope"})

	assert.Equal(t, []seen{{"ok", StatusOK}, {"nope", StatusUnknown}}, calls)
	entries := logs.FilterMessage("tool call").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "2", entries[1].ContextMap()["call_id"])
}

// --- ToolParameters ---

func TestToolParameters_WithRequired(t *testing.T) {
	params := ToolParameters(
		map[string]Param{
			"hostname": {Type: "string", Description: "Hostname"},
			"queries":  {Type: "integer"},
		},
		[]string{"hostname"},
	)

	assert.Equal(t, "object", params["type"])
	props := params["properties"].(map[string]any)
	require.Len(t, props, 2)
	assert.Equal(t, "Hostname", props["hostname"].(map[string]any)["description"])
	_, hasDesc := props["queries"].(map[string]any)["description"]
	assert.False(t, hasDesc)
	assert.Equal(t, []string{"hostname"}, params["required"])
}

func TestToolParameters_NoRequiredIsEmptyList(t *testing.T) {
	params := ToolParameters(map[string]Param{}, nil)
	assert.Equal(t, []string{}, params["required"])
}
