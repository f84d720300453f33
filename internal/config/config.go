// Package config loads and saves the workspace configuration.
//
// The config lives at .config/tracey/config.styx relative to the
// workspace root. The file is a YAML-syntax document; a missing file is
// not an error and yields an empty configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/necessary-nu/tracey/internal/paths"
)

// DefaultImplInclude is the include set an implementation gets when it
// declares none.
var DefaultImplInclude = []string{"**/*.rs"}

// Config is the root workspace configuration.
type Config struct {
	Specs []SpecConfig `json:"specs" yaml:"specs" mapstructure:"specs"`
}

// SpecConfig describes one tracked specification.
type SpecConfig struct {
	Name      string       `json:"name" yaml:"name" mapstructure:"name"`
	Prefix    string       `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
	SourceURL string       `json:"sourceUrl,omitempty" yaml:"source_url,omitempty" mapstructure:"source_url"`
	Include   []string     `json:"include" yaml:"include" mapstructure:"include"`
	Impls     []ImplConfig `json:"impls" yaml:"impls" mapstructure:"impls"`
}

// ImplConfig describes one implementation (named file set) of a spec.
type ImplConfig struct {
	Name        string   `json:"name" yaml:"name" mapstructure:"name"`
	Include     []string `json:"include,omitempty" yaml:"include,omitempty" mapstructure:"include"`
	Exclude     []string `json:"exclude,omitempty" yaml:"exclude,omitempty" mapstructure:"exclude"`
	TestInclude []string `json:"testInclude,omitempty" yaml:"test_include,omitempty" mapstructure:"test_include"`
}

// EffectiveInclude returns the impl's include patterns, applying the
// default when none are configured.
func (ic *ImplConfig) EffectiveInclude() []string {
	if len(ic.Include) == 0 {
		return DefaultImplInclude
	}
	return ic.Include
}

// SpecByPrefix returns the spec with the given prefix, or nil.
func (c *Config) SpecByPrefix(prefix string) *SpecConfig {
	for i := range c.Specs {
		if c.Specs[i].Prefix == prefix {
			return &c.Specs[i]
		}
	}
	return nil
}

// SpecByName returns the spec with the given name, or nil.
func (c *Config) SpecByName(name string) *SpecConfig {
	for i := range c.Specs {
		if c.Specs[i].Name == name {
			return &c.Specs[i]
		}
	}
	return nil
}

// ImplByName returns the impl with the given name, or nil.
func (sc *SpecConfig) ImplByName(name string) *ImplConfig {
	for i := range sc.Impls {
		if sc.Impls[i].Name == name {
			return &sc.Impls[i]
		}
	}
	return nil
}

// Prefixes returns all configured prefixes in spec order.
func (c *Config) Prefixes() []string {
	out := make([]string, 0, len(c.Specs))
	for i := range c.Specs {
		out = append(out, c.Specs[i].Prefix)
	}
	return out
}

// Load reads the configuration for a workspace root. A missing config
// file yields an empty Config and no error; a file that exists but
// fails to parse or validate is an error.
func Load(root string) (*Config, error) {
	return LoadFile(paths.ConfigPath(root))
}

// LoadFile reads the configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save re-serializes the configuration to the workspace config path,
// creating parent directories as needed.
func (c *Config) Save(root string) error {
	path := paths.ConfigPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func validPrefix(prefix string) bool {
	if len(prefix) < 1 || len(prefix) > 8 {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// Validate checks structural invariants: non-empty names, well-formed
// prefixes, and no prefix collisions between specs.
func (c *Config) Validate() error {
	seenPrefix := make(map[string]string)
	seenName := make(map[string]bool)

	for i := range c.Specs {
		spec := &c.Specs[i]
		if spec.Name == "" {
			return &FieldError{Field: fmt.Sprintf("specs[%d].name", i), Message: "spec name must not be empty"}
		}
		if seenName[spec.Name] {
			return &FieldError{Field: fmt.Sprintf("specs[%d].name", i), Message: fmt.Sprintf("duplicate spec name %q", spec.Name)}
		}
		seenName[spec.Name] = true

		if !validPrefix(spec.Prefix) {
			return &FieldError{
				Field:   fmt.Sprintf("specs[%d].prefix", i),
				Message: fmt.Sprintf("prefix %q must be 1-8 lowercase alphanumerics", spec.Prefix),
			}
		}
		if other, ok := seenPrefix[spec.Prefix]; ok {
			return &FieldError{
				Field:   fmt.Sprintf("specs[%d].prefix", i),
				Message: fmt.Sprintf("prefix %q already used by spec %q", spec.Prefix, other),
			}
		}
		seenPrefix[spec.Prefix] = spec.Name

		implNames := make(map[string]bool)
		for j := range spec.Impls {
			impl := &spec.Impls[j]
			if impl.Name == "" {
				return &FieldError{Field: fmt.Sprintf("specs[%d].impls[%d].name", i, j), Message: "impl name must not be empty"}
			}
			if implNames[impl.Name] {
				return &FieldError{Field: fmt.Sprintf("specs[%d].impls[%d].name", i, j), Message: fmt.Sprintf("duplicate impl name %q", impl.Name)}
			}
			implNames[impl.Name] = true
		}
	}
	return nil
}

// FieldError is a configuration validation error bound to one field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
