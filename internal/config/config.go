// Package config loads pivtool's YAML configuration file, following the
// strict-decode-then-validate pattern used throughout the nfctools CLI
// suite (gopkg.in/yaml.v3 with KnownFields enabled, pointer fields for
// "unset" detection, and path resolution relative to the config file).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is pivtool's on-disk configuration: which reader to default to,
// where to find a management key for admin operations, and default PIN
// policy for generated keys.
type Config struct {
	DefaultReader string       `yaml:"default_reader"`
	ManagementKey ManagementKey `yaml:"management_key"`
	PINPolicy     PINPolicy    `yaml:"pin_policy"`
}

type ManagementKey struct {
	Algorithm  string `yaml:"algorithm"`   // "3des", "aes128", "aes192", "aes256"
	KeyHexFile string `yaml:"key_hex_file"`
}

type PINPolicy struct {
	Default  *int `yaml:"default"`  // 0=never, 1=once, 2=always
	TouchDefault *int `yaml:"touch_default"`
}

// Load reads, strictly decodes, and validates the config file at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ManagementKey.KeyHexFile != "" {
		switch c.ManagementKey.Algorithm {
		case "3des", "aes128", "aes192", "aes256", "":
		default:
			return fmt.Errorf("config.management_key.algorithm must be one of 3des/aes128/aes192/aes256")
		}
		if err := validateReadableFile(c.ManagementKey.KeyHexFile, "config.management_key.key_hex_file"); err != nil {
			return err
		}
	}
	if c.PINPolicy.Default != nil && (*c.PINPolicy.Default < 0 || *c.PINPolicy.Default > 2) {
		return fmt.Errorf("config.pin_policy.default must be 0..2")
	}
	if c.PINPolicy.TouchDefault != nil && (*c.PINPolicy.TouchDefault < 0 || *c.PINPolicy.TouchDefault > 2) {
		return fmt.Errorf("config.pin_policy.touch_default must be 0..2")
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.ManagementKey.KeyHexFile = resolvePath(configDir, c.ManagementKey.KeyHexFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
