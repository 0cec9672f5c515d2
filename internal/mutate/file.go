package mutate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dnswatch/internal/domain"
	"dnswatch/internal/fsutil"
)

// UpdateKeyInFile applies UpdateKey to the file at path and writes it back
// only when something changed. A rewrite that would turn a valid YAML
// document into an invalid one is refused.
func UpdateKeyInFile(path, keyPath, newValue string) (domain.MutationResult, error) {
	return applyToFile(path, func(content string) (domain.MutationResult, error) {
		res := UpdateKey(content, keyPath, newValue)
		if res.Changed && validYAML(content) && !validYAML(res.Content) {
			return unchanged(content), fmt.Errorf("update %s in %s would produce invalid YAML", keyPath, path)
		}
		return res, nil
	})
}

// ReplaceLiteralInFile applies ReplaceLiteral to the file at path and writes
// it back only when something changed.
func ReplaceLiteralInFile(path, oldIP, newIP string) (domain.MutationResult, error) {
	return applyToFile(path, func(content string) (domain.MutationResult, error) {
		return ReplaceLiteral(content, oldIP, newIP), nil
	})
}

func applyToFile(path string, fn func(string) (domain.MutationResult, error)) (domain.MutationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.MutationResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	res, err := fn(string(data))
	if err != nil {
		return res, err
	}
	if !res.Changed {
		return res, nil
	}
	if err := fsutil.WriteFileAtomic(path, []byte(res.Content), 0o644); err != nil {
		return domain.MutationResult{}, fmt.Errorf("write %s: %w", path, err)
	}
	return res, nil
}

func validYAML(content string) bool {
	var v any
	return yaml.Unmarshal([]byte(content), &v) == nil
}
