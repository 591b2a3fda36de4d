package embedding

import "knowgraph/internal/config"

// DefaultRegistry wires the "local" and "openai" schemes against cfg. This is
// the registry production code should build once at process startup.
func DefaultRegistry(cfg config.EmbeddingConfig) *Registry {
	return NewRegistry(map[string]func(model string) Provider{
		"local": func(model string) Provider { return NewLocal(cfg, model) },
		"openai": func(model string) Provider { return NewRemote(cfg, model) },
	})
}
