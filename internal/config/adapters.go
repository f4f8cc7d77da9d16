package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AdapterSettings configures individual scanner adapters from an optional
// YAML file. Adapters absent from the file run with defaults; an adapter
// explicitly disabled is skipped entirely.
type AdapterSettings struct {
	Adapters map[string]AdapterSetting `yaml:"adapters"`
}

// AdapterSetting holds one adapter's overrides.
type AdapterSetting struct {
	// Enabled defaults to true; only an explicit false disables the adapter.
	Enabled *bool `yaml:"enabled"`

	// Env adds environment variables to the adapter's invocations, e.g.
	// TRIVY_DB_REPOSITORY for an air-gapped mirror.
	Env map[string]string `yaml:"env"`
}

// LoadAdapterSettings reads the adapter settings file. A missing path
// returns empty settings, not an error.
func LoadAdapterSettings(path string) (*AdapterSettings, error) {
	if path == "" {
		return &AdapterSettings{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &AdapterSettings{}, nil
		}
		return nil, fmt.Errorf("reading adapter settings %s: %w", path, err)
	}

	var settings AdapterSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing adapter settings %s: %w", path, err)
	}
	return &settings, nil
}

// Enabled reports whether the named adapter should run.
func (s *AdapterSettings) Enabled(name string) bool {
	setting, ok := s.Adapters[name]
	if !ok || setting.Enabled == nil {
		return true
	}
	return *setting.Enabled
}

// EnvFor returns the extra environment for the named adapter, nil when none
// is configured.
func (s *AdapterSettings) EnvFor(name string) map[string]string {
	return s.Adapters[name].Env
}
