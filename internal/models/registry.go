// Package models holds the registry of supported embedding models and the
// fetcher that downloads and caches their artifacts.
package models

import (
	"sort"
)

// ModelConfig describes one embedding model. Values are immutable and shared.
type ModelConfig struct {
	Name           string
	Repo           string
	ModelFile      string
	TokenizerFile  string
	TokenDim       int
	DocMaxLength   int
	QueryMaxLength int
	// Version is recorded with every index snapshot; a change forces a full re-embed
	Version   string
	BatchSize int
}

// DefaultName is the model used when none is requested
const DefaultName = "edge"

var registry = map[string]ModelConfig{
	"edge": {
		Name:           "edge",
		Repo:           "lightonai/LateOn-Code-edge",
		ModelFile:      "model.onnx",
		TokenizerFile:  "tokenizer.json",
		TokenDim:       48,
		DocMaxLength:   512,
		QueryMaxLength: 256,
		Version:        "lateon-code-edge-v1",
		BatchSize:      64,
	},
	"full": {
		Name:           "full",
		Repo:           "lightonai/LateOn-Code",
		ModelFile:      "model.onnx",
		TokenizerFile:  "tokenizer.json",
		TokenDim:       128,
		DocMaxLength:   512,
		QueryMaxLength: 256,
		Version:        "lateon-code-v1",
		BatchSize:      32,
	},
}

// Default returns the default model configuration
func Default() ModelConfig {
	return registry[DefaultName]
}

// Resolve returns the named configuration. Unknown or empty names resolve to
// the default; ok reports whether name matched a registry entry.
func Resolve(name string) (cfg ModelConfig, ok bool) {
	cfg, ok = registry[name]
	if !ok {
		return Default(), false
	}
	return cfg, true
}

// ResolveByVersion returns the configuration recorded under version, falling
// back to the default for unknown versions.
func ResolveByVersion(version string) (cfg ModelConfig, ok bool) {
	for _, c := range registry {
		if c.Version == version {
			return c, true
		}
	}
	return Default(), false
}

// All returns every registered configuration sorted by name
func All() []ModelConfig {
	out := make([]ModelConfig, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
