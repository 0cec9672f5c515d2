package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	cp := *cfg
	cp.Provider.Failover = append([]string(nil), cfg.Provider.Failover...)

	cp.Provider.OpenAI.APIKey = maskString(cp.Provider.OpenAI.APIKey)
	cp.Provider.Ollama.APIKey = maskString(cp.Provider.Ollama.APIKey)
	cp.Publish.Token = maskString(cp.Publish.Token)
	cp.Notify.WebhookURL = maskURL(cp.Notify.WebhookURL)
	return &cp
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// maskURL keeps scheme and host of a webhook URL; the path carries the secret.
func maskURL(u string) string {
	if u == "" {
		return ""
	}
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return maskString(u)
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + "/***"
}

// ListPaths returns every config path with its current value, keyed by the
// same dotted names used in the YAML file.
func ListPaths(cfg *Config) map[string]any {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	result := make(map[string]any)
	flattenMap("", m, result)
	return result
}

// GetByPath looks up a single dotted config path.
func GetByPath(cfg *Config, path string) (any, error) {
	paths := ListPaths(cfg)
	if v, ok := paths[path]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("unknown config path: %s", path)
}

// SortedPaths returns the keys of ListPaths in lexical order.
func SortedPaths(cfg *Config) []string {
	paths := ListPaths(cfg)
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenMap(path, val, result)
		default:
			result[path] = val
		}
	}
}
