package agent

import "testing"

var watchTools = []string{
	"get_last_ip", "git_commit_push", "notify_teams", "read_file",
	"replace_ip_literal", "set_last_ip", "stabilize_dns", "yaml_update",
}

// --- extractToolCallsFromContent ---

func TestExtractToolCalls_SingleObject(t *testing.T) {
	input := `{"name": "set_last_ip", "arguments": {"ip": "10.0.0.5"}}`
	calls := extractToolCallsFromContent(input, watchTools)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "set_last_ip" {
		t.Fatalf("expected 'set_last_ip', got %q", calls[0].Name)
	}
	if calls[0].Arguments["ip"] != "10.0.0.5" {
		t.Fatalf("expected ip argument, got %v", calls[0].Arguments)
	}
	if calls[0].ID == "" {
		t.Fatal("extracted calls need an id")
	}
}

func TestExtractToolCalls_ParametersField(t *testing.T) {
	input := `{"name": "read_file", "parameters": {"path": "deploy/helm/values.yaml"}}`
	calls := extractToolCallsFromContent(input, watchTools)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments["path"] != "deploy/helm/values.yaml" {
		t.Fatalf("expected path, got %v", calls[0].Arguments)
	}
}

func TestExtractToolCalls_Array(t *testing.T) {
	input := `[{"name": "get_last_ip", "arguments": {}}, {"name": "stabilize_dns", "arguments": {"hostname": "kafka"}}]`
	calls := extractToolCallsFromContent(input, watchTools)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
}

func TestExtractToolCalls_CodeFenceWrapped(t *testing.T) {
	input := "```json\n{\"name\": \"get_last_ip\", \"arguments\": {}}\n```"
	calls := extractToolCallsFromContent(input, watchTools)
	if len(calls) != 1 || calls[0].Name != "get_last_ip" {
		t.Fatalf("expected get_last_ip from code fence, got %+v", calls)
	}
}

func TestExtractToolCalls_SurroundedByText(t *testing.T) {
	input := "assistant\nLet me check the state.\n{\"name\": \"get_last_ip\", \"arguments\": {}}\nThen I'll compare."
	calls := extractToolCallsFromContent(input, watchTools)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
}

func TestExtractToolCalls_NormalizesName(t *testing.T) {
	for _, name := range []string{"get-last-ip", "GetLastIP", "getlastip"} {
		calls := extractToolCallsFromContent(`{"name": "`+name+`"}`, watchTools)
		if len(calls) != 1 || calls[0].Name != "get_last_ip" {
			t.Fatalf("%s: expected get_last_ip, got %+v", name, calls)
		}
	}
}

func TestExtractToolCalls_UnknownNameDropped(t *testing.T) {
	calls := extractToolCallsFromContent(`{"name": "shell", "arguments": {"command": "ls"}}`, watchTools)
	if len(calls) != 0 {
		t.Fatalf("expected unknown tool to be dropped, got %+v", calls)
	}
}

func TestExtractToolCalls_PlainText(t *testing.T) {
	calls := extractToolCallsFromContent("Broker IP unchanged at 10.0.0.5; nothing to do.", watchTools)
	if len(calls) != 0 {
		t.Fatalf("expected 0 calls for plain text, got %d", len(calls))
	}
}

func TestExtractToolCalls_EmptyInput(t *testing.T) {
	if calls := extractToolCallsFromContent("", watchTools); len(calls) != 0 {
		t.Fatalf("expected 0 calls for empty input, got %d", len(calls))
	}
	if calls := extractToolCallsFromContent(`{"name": "", "arguments": {}}`, watchTools); len(calls) != 0 {
		t.Fatalf("expected 0 calls for empty name, got %d", len(calls))
	}
}

func TestExtractToolCalls_NilArguments(t *testing.T) {
	calls := extractToolCallsFromContent(`{"name": "get_last_ip"}`, watchTools)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Arguments == nil {
		t.Fatal("arguments should be initialized to empty map")
	}
}

func TestExtractToolCalls_WithInvalidEscapes(t *testing.T) {
	input := `{"name": "notify_teams", "arguments": {"title": "done", "text": "100\% updated"}}`
	calls := extractToolCallsFromContent(input, watchTools)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call after sanitization, got %d", len(calls))
	}
	if calls[0].Arguments["text"] != "100% updated" {
		t.Fatalf("unexpected text: %v", calls[0].Arguments["text"])
	}
}

// --- sanitizeJSONEscapes ---

func TestSanitizeJSONEscapes(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"valid", `{"key": "value with \"quotes\" and \\backslash"}`, `{"key": "value with \"quotes\" and \\backslash"}`},
		{"invalid", `{"key": "100\% done"}`, `{"key": "100% done"}`},
		{"multiple invalid", `{"msg": "Hello \World \! \?"}`, `{"msg": "Hello World ! ?"}`},
		{"keeps control escapes", `{"text": "line1\nline2\ttab"}`, `{"text": "line1\nline2\ttab"}`},
		{"empty", "", ""},
		{"no strings", `{}`, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeJSONEscapes(tt.in); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripRolePrefix(t *testing.T) {
	if got := stripRolePrefix("Assistant: Broker IP updated."); got != "Broker IP updated." {
		t.Fatalf("got %q", got)
	}
	if got := stripRolePrefix("No prefix"); got != "No prefix" {
		t.Fatalf("got %q", got)
	}
}
