package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMinimalConfig(t *testing.T) {
	cfgPath := writeConfig(t, `
default_reader: "Yubico YubiKey"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DefaultReader != "Yubico YubiKey" {
		t.Fatalf("expected default_reader to round-trip, got %q", cfg.DefaultReader)
	}
}

func TestLoadResolvesManagementKeyPath(t *testing.T) {
	tmp := t.TempDir()
	keyPath := filepath.Join(tmp, "mgmkey.hex")
	if err := os.WriteFile(keyPath, []byte(strings.Repeat("00", 24)+"\n"), 0o644); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
management_key:
  algorithm: "3des"
  key_hex_file: "mgmkey.hex"
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ManagementKey.KeyHexFile != keyPath {
		t.Fatalf("expected resolved key path %q, got %q", keyPath, cfg.ManagementKey.KeyHexFile)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	cfgPath := writeConfig(t, `
default_reader: "reader"
bogus_field: true
`)

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected an error for an unknown field")
	}
}

func TestLoadRejectsBadManagementKeyAlgorithm(t *testing.T) {
	tmp := t.TempDir()
	keyPath := filepath.Join(tmp, "mgmkey.hex")
	if err := os.WriteFile(keyPath, []byte("00"), 0o644); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
management_key:
  algorithm: "rot13"
  key_hex_file: "mgmkey.hex"
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "management_key.algorithm") {
		t.Fatalf("expected management key algorithm error, got %v", err)
	}
}

func TestLoadRejectsOutOfRangePINPolicy(t *testing.T) {
	cfgPath := writeConfig(t, `
pin_policy:
  default: 9
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "pin_policy.default") {
		t.Fatalf("expected pin_policy.default range error, got %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}
