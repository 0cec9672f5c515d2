package tool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dnswatch/internal/domain"
	"dnswatch/internal/mutate"
)

// resolvePath resolves a file path relative to the workspace and prevents traversal.
func resolvePath(workspace, path string) (string, error) {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if workspace != "" {
		wsAbs, err := filepath.Abs(workspace)
		if err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
		if !strings.HasPrefix(resolved, wsAbs+string(filepath.Separator)) && resolved != wsAbs {
			return "", fmt.Errorf("path %q is outside workspace %q", resolved, wsAbs)
		}
	}
	return resolved, nil
}

// --- read_file ---

type ReadFileTool struct {
	workspace string
}

func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{workspace: workspace}
}

type readFileArgs struct {
	Path string `json:"path" validate:"required"`
}

type readFileResult struct {
	Exists  bool   `json:"exists"`
	Content string `json:"content"`
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read file content from the repository workspace." }
func (t *ReadFileTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"path": {Type: "string", Description: "File path relative to the repository root"},
		},
		[]string{"path"},
	)
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a readFileArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	resolved, err := resolvePath(t.workspace, a.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return readFileResult{Exists: false, Content: ""}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return readFileResult{Exists: true, Content: string(data)}, nil
}

// --- yaml_update ---

type YAMLUpdateTool struct {
	workspace string
}

func NewYAMLUpdateTool(workspace string) *YAMLUpdateTool {
	return &YAMLUpdateTool{workspace: workspace}
}

type yamlUpdateArgs struct {
	Path     string `json:"path" validate:"required"`
	KeyPath  string `json:"keyPath" validate:"required"`
	NewValue string `json:"newValue" validate:"required"`
}

func (t *YAMLUpdateTool) Name() string { return "yaml_update" }
func (t *YAMLUpdateTool) Description() string {
	return "Update a scalar value at 'keyPath' (dot separated) in YAML file 'path'. Writes only when the value changes."
}
func (t *YAMLUpdateTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"path":     {Type: "string", Description: "YAML file path relative to the repository root"},
			"keyPath":  {Type: "string", Description: "Dot separated key path, e.g. kafka.brokerIP"},
			"newValue": {Type: "string", Description: "New scalar value"},
		},
		[]string{"path", "keyPath", "newValue"},
	)
}

func (t *YAMLUpdateTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a yamlUpdateArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	resolved, err := resolvePath(t.workspace, a.Path)
	if err != nil {
		return nil, err
	}
	return mutate.UpdateKeyInFile(resolved, a.KeyPath, a.NewValue)
}

// --- replace_ip_literal ---

type ReplaceIPLiteralTool struct {
	workspace string
}

func NewReplaceIPLiteralTool(workspace string) *ReplaceIPLiteralTool {
	return &ReplaceIPLiteralTool{workspace: workspace}
}

type replaceIPArgs struct {
	Path  string `json:"path" validate:"required"`
	OldIP string `json:"old_ip" validate:"omitempty,ipv4"`
	NewIP string `json:"new_ip" validate:"required,ipv4"`
}

func (t *ReplaceIPLiteralTool) Name() string { return "replace_ip_literal" }
func (t *ReplaceIPLiteralTool) Description() string {
	return "Replace an existing IPv4 literal in a file with the new IP (fallback when yaml_update finds no key). " +
		"Replaces every occurrence of old_ip, or of the first IPv4 literal when old_ip is absent."
}
func (t *ReplaceIPLiteralTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"path":   {Type: "string", Description: "File path relative to the repository root"},
			"old_ip": {Type: "string", Description: "Previously known IPv4, may be empty"},
			"new_ip": {Type: "string", Description: "New IPv4"},
		},
		[]string{"path", "old_ip", "new_ip"},
	)
}

func (t *ReplaceIPLiteralTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a replaceIPArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	resolved, err := resolvePath(t.workspace, a.Path)
	if err != nil {
		return nil, err
	}
	return mutate.ReplaceLiteralInFile(resolved, a.OldIP, a.NewIP)
}

var (
	_ domain.Tool = (*ReadFileTool)(nil)
	_ domain.Tool = (*YAMLUpdateTool)(nil)
	_ domain.Tool = (*ReplaceIPLiteralTool)(nil)
)
