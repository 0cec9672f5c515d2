package agent

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"dnswatch/internal/domain"
)

// extractToolCallsFromContent recovers tool calls that a model printed as JSON
// in its message text instead of the structured tool_calls field. Local models
// served through Ollama do this often. Accepted shapes:
//   - `{"name":"get_last_ip","arguments":{}}`
//   - a JSON array of such objects
//   - either of the above inside a ```json fence or surrounded by prose
//
// Only names that resolve to one of known are returned.
func extractToolCallsFromContent(content string, known []string) []domain.ToolCall {
	content = strings.TrimSpace(stripRolePrefix(content))
	if content == "" {
		return nil
	}

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 3 && strings.HasPrefix(lines[len(lines)-1], "```") {
			content = strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	calls := parseToolJSON(content)
	if len(calls) == 0 {
		if start, end := findJSONBounds(content); start >= 0 && end > start {
			calls = parseToolJSON(content[start:end])
		}
	}

	var out []domain.ToolCall
	for _, c := range calls {
		name, ok := normalizeToolName(c.Name, known)
		if !ok {
			continue
		}
		c.Name = name
		out = append(out, c)
	}
	return out
}

// findJSONBounds locates the first top-level JSON object or array in s and
// returns its [start, end) range, or (-1, -1).
func findJSONBounds(s string) (int, int) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return -1, -1
	}
	openChar := s[start]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case openChar:
			depth++
		case closeChar:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

type printedCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Arguments  map[string]any `json:"arguments"`
}

func (p printedCall) toolCall() domain.ToolCall {
	args := p.Arguments
	if args == nil {
		args = p.Parameters
	}
	if args == nil {
		args = map[string]any{}
	}
	return domain.ToolCall{ID: "extracted_" + uuid.NewString(), Name: p.Name, Arguments: args}
}

func parseToolJSON(raw string) []domain.ToolCall {
	text := raw
	var single printedCall
	if err := json.Unmarshal([]byte(text), &single); err != nil {
		text = sanitizeJSONEscapes(raw)
		_ = json.Unmarshal([]byte(text), &single)
	}
	if single.Name != "" {
		return []domain.ToolCall{single.toolCall()}
	}

	var multi []printedCall
	if err := json.Unmarshal([]byte(text), &multi); err != nil {
		return nil
	}
	var calls []domain.ToolCall
	for _, m := range multi {
		if m.Name != "" {
			calls = append(calls, m.toolCall())
		}
	}
	return calls
}

// normalizeToolName maps spellings such as "set-last-ip", "SetLastIP" or
// "setlastip" onto the registered name.
func normalizeToolName(name string, known []string) (string, bool) {
	squash := func(s string) string {
		s = strings.ToLower(s)
		return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
	}
	want := squash(name)
	for _, k := range known {
		if k == name {
			return k, true
		}
	}
	for _, k := range known {
		if squash(k) == want {
			return k, true
		}
	}
	return "", false
}

// stripRolePrefix removes a leaked role name such as "assistant\n" or
// "Assistant: " from the start of content.
func stripRolePrefix(content string) string {
	for _, p := range []string{"assistant\n", "Assistant\n", "assistant:\n", "Assistant:\n", "assistant: ", "Assistant: "} {
		if strings.HasPrefix(content, p) {
			return strings.TrimSpace(content[len(p):])
		}
	}
	return content
}

// sanitizeJSONEscapes drops the backslash from escape sequences JSON does not
// allow, such as \% or \Y.
func sanitizeJSONEscapes(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '"' && (i == 0 || s[i-1] != '\\') {
			inString = !inString
			buf.WriteByte(ch)
			continue
		}
		if inString && ch == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				buf.WriteByte(ch)
			}
			continue
		}
		buf.WriteByte(ch)
	}
	return buf.String()
}
