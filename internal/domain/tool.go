package domain

import "context"

// Tool is a deterministic operation the decision service may invoke.
// Execute returns a JSON-serializable result.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}
