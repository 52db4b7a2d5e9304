package config

import "slices"

type ModelsConfig struct {
	DefaultModel string   `yaml:"default_model"`
	Supported    []string `yaml:"supported"`
}

func DefaultModels() *ModelsConfig {
	return &ModelsConfig{
		DefaultModel: "gpt-4o",
		Supported:    []string{"gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo", "gpt-4", "gpt-4.1"},
	}
}

// IsSupported reports whether model is on the advertised list. Unlisted models
// are still forwarded.
func (m *ModelsConfig) IsSupported(model string) bool {
	return slices.Contains(m.Supported, model)
}
