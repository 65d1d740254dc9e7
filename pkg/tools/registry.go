package tools

import (
	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/retrieval"
	"github.com/gryagbot/gryag/pkg/turns"
)

// DefaultRegistryConfig bundles the dependencies the built-in tool set
// needs. Fields left nil simply skip registering the tools that depend
// on them, so a caller without (say) a live HTTP budget can still build
// a registry for the deterministic tools alone.
// External tools (web search, fetch, weather, currency, image
// generation) live in pkg/tools/external and are wired into the same
// *Registry by the service container, after NewDefaultRegistry — kept
// out of this package to avoid an import cycle (external depends on
// this package for Registry/Handler/Context).
type DefaultRegistryConfig struct {
	Facts          *facts.Repository
	Retriever      *retrieval.Retriever
	Turns          *turns.Repository
	Embedder       Embedder
	EmbeddingModel string
}

// NewDefaultRegistry builds the registry of built-in tools described in
// spec.md §4.10, generalizing the teacher's builtinToolExecutors static
// map (pkg/connector/tool_registry.go) away from its bridge-specific
// executor signature to this package's Handler type.
func NewDefaultRegistry(cfg DefaultRegistryConfig) *Registry {
	reg := NewRegistry()

	RegisterCalculatorTool(reg)

	if cfg.Facts != nil {
		RegisterMemoryTools(reg, cfg.Facts)
	}
	if cfg.Retriever != nil && cfg.Turns != nil {
		RegisterSearchTool(reg, cfg.Retriever, cfg.Turns, cfg.Embedder, cfg.EmbeddingModel)
	}

	return reg
}
