// Package config loads the application defaults file: committer identity,
// default cache/output roots, and the schema version stamped into the
// initial commit's metadata file.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// DefaultCacheDir and DefaultBranch are the fallback values applied when a
// defaults file is absent or omits a field.
const (
	DefaultCacheDir = "./cache"
	DefaultBranch   = "main"
	DefaultSchemaVersion = 2
)

// Committer is the fixed (name, email) pair used for author and committer
// on every generated commit (spec §6).
type Committer struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Config holds the application defaults for a DVH run.
type Config struct {
	Committer     Committer `yaml:"committer"`
	CacheDir      string    `yaml:"cache_dir"`
	OutputDir     string    `yaml:"output_dir"`
	SchemaVersion int       `yaml:"schema_version"`
	DefaultBranch string    `yaml:"default_branch"`
}

// Unmarshal parses a YAML defaults document, applying package defaults
// first so a partial file only overrides what it specifies.
func Unmarshal(content []byte) (*Config, error) {
	cfg := &Config{
		CacheDir:      DefaultCacheDir,
		DefaultBranch: DefaultBranch,
		SchemaVersion: DefaultSchemaVersion,
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters", err.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads and parses a YAML defaults file from disk.
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString parses a YAML defaults document already in memory.
func LoadConfigString(content []byte) (*Config, error) {
	return Unmarshal(content)
}

func (c *Config) validate() error {
	if c.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive, got %d", c.SchemaVersion)
	}
	if c.Committer.Name != "" && c.Committer.Email == "" {
		return fmt.Errorf("committer.email is required when committer.name is set")
	}
	return nil
}
