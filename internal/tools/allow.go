package tools

import "context"

type allowedKey struct{}

// WithAllowedTools returns a context under which Registry.Execute only runs
// the named tools. The limit also covers operations nested in
// execute_batch. An empty list allows nothing.
func WithAllowedTools(ctx context.Context, names []string) context.Context {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return context.WithValue(ctx, allowedKey{}, set)
}

// Allowed reports whether ctx permits calling the named tool. A context
// without a limit permits everything.
func Allowed(ctx context.Context, name string) bool {
	set, ok := ctx.Value(allowedKey{}).(map[string]bool)
	if !ok {
		return true
	}
	return set[name]
}
