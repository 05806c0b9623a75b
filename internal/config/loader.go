package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/meshcore/meshd/internal/portalloc"
)

// Loader handles configuration loading and validation.
type Loader struct {
	validate *validator.Validate
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		validate: validator.New(),
	}
}

// LoadFile loads and validates configuration from a YAML file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Load(data)
}

// Load parses and validates configuration from YAML bytes.
func (l *Loader) Load(data []byte) (*Config, error) {
	cfg := Defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates a configuration struct.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("config validation failed: %s", formatValidationErrors(validationErrors))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := l.validateSemantics(cfg); err != nil {
		return err
	}

	return nil
}

// validateSemantics performs additional validation beyond struct tags.
func (l *Loader) validateSemantics(cfg *Config) error {
	if cfg.RIB.HoldTimeSec != 0 && cfg.RIB.HoldTimeSec < 3 {
		return fmt.Errorf("rib.hold_time_seconds: must be 0 (disabled) or >= 3, got %d", cfg.RIB.HoldTimeSec)
	}

	if len(cfg.RIB.PortRange) == 0 {
		return fmt.Errorf("rib.port_range: must contain at least one range")
	}

	var entries []portalloc.Entry
	for _, r := range cfg.RIB.PortRange {
		entries = append(entries, portalloc.Entry{Start: r.Start, End: r.End})
	}
	if _, err := portalloc.ParseEntries(entries); err != nil {
		return fmt.Errorf("rib.port_range: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Peers))
	for _, p := range cfg.Peers {
		if seen[p.Name] {
			return fmt.Errorf("peers: duplicate peer name %q", p.Name)
		}
		seen[p.Name] = true
	}

	return nil
}

// formatValidationErrors formats validation errors into a readable string.
func formatValidationErrors(errors validator.ValidationErrors) string {
	var result string
	for i, err := range errors {
		if i > 0 {
			result += "; "
		}
		result += fmt.Sprintf("field '%s' failed on '%s' validation", err.Field(), err.Tag())
	}
	return result
}
