package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is where the authoritative document lives on the
// appliance.
const DefaultConfigPath = "/persistent/config/router.json"

// Clone returns a deep copy of the configuration. The copy goes through
// the same JSON encoding as the persisted document, so a cloned model
// is exactly what a reload would produce.
func (m *RouterConfig) Clone() *RouterConfig {
	data, err := json.Marshal(m)
	if err != nil {
		// RouterConfig contains only JSON-encodable fields.
		panic(fmt.Sprintf("config: marshal failed: %v", err))
	}

	next := &RouterConfig{}
	if err := json.Unmarshal(data, next); err != nil {
		panic(fmt.Sprintf("config: unmarshal failed: %v", err))
	}
	return next
}

// Marshal encodes the configuration as the persisted JSON document.
func (m *RouterConfig) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return append(data, '\n'), nil
}

// Save writes the configuration document to the given path.
func (m *RouterConfig) Save(path string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}

// Unmarshal decodes a persisted configuration document.
func Unmarshal(data []byte) (*RouterConfig, error) {
	cfg := &RouterConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}

// Load reads the persisted configuration document. The document must
// round-trip losslessly: Load(Save(cfg)) yields an identical model.
func Load(path string) (*RouterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	cfg, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
