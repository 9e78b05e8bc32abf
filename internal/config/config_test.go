package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
relay:
  urls:
    - wss://relay-1.example.io
para:
  urls:
    - wss://para-1.example.io
  contract_addr: "0x74855F3dBCF4C5201539F2A815f2bD2C287B8a6a"
timing:
  era_duration_blocks: 3600
  era_duration_seconds: 21600
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Relay.SS58Format != 42 {
		t.Errorf("ss58_format default = %d, want 42", cfg.Relay.SS58Format)
	}
	if cfg.Oracle.GasLimit != 10_000_000 {
		t.Errorf("gas_limit default = %d, want 10000000", cfg.Oracle.GasLimit)
	}
	if got := cfg.Timing.Frequency(); got != 180*time.Second {
		t.Errorf("frequency default = %v, want 180s", got)
	}
	if got := cfg.Timing.EraUpdateDelayDur(); got != 360*time.Second {
		t.Errorf("era_update_delay default = %v, want 360s", got)
	}
	if got := cfg.Timing.EraDelayTimeDur(); got != 600*time.Second {
		t.Errorf("era_delay_time default = %v, want 600s", got)
	}
	if cfg.Prometheus.Port != 8000 {
		t.Errorf("prometheus port default = %d, want 8000", cfg.Prometheus.Port)
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no relay urls", `
para:
  urls: ["wss://para.example.io"]
  contract_addr: "0x74855F3dBCF4C5201539F2A815f2bD2C287B8a6a"
timing: {era_duration_blocks: 1, era_duration_seconds: 1}
`},
		{"bad relay scheme", `
relay:
  urls: ["ftp://relay.example.io"]
para:
  urls: ["wss://para.example.io"]
  contract_addr: "0x74855F3dBCF4C5201539F2A815f2bD2C287B8a6a"
timing: {era_duration_blocks: 1, era_duration_seconds: 1}
`},
		{"missing contract", `
relay:
  urls: ["wss://relay.example.io"]
para:
  urls: ["wss://para.example.io"]
timing: {era_duration_blocks: 1, era_duration_seconds: 1}
`},
		{"bad contract address", `
relay:
  urls: ["wss://relay.example.io"]
para:
  urls: ["wss://para.example.io"]
  contract_addr: "not-an-address"
timing: {era_duration_blocks: 1, era_duration_seconds: 1}
`},
		{"missing era duration", `
relay:
  urls: ["wss://relay.example.io"]
para:
  urls: ["wss://para.example.io"]
  contract_addr: "0x74855F3dBCF4C5201539F2A815f2bD2C287B8a6a"
`},
		{"bad duration string", `
relay:
  urls: ["wss://relay.example.io"]
para:
  urls: ["wss://para.example.io"]
  contract_addr: "0x74855F3dBCF4C5201539F2A815f2bD2C287B8a6a"
timing:
  era_duration_blocks: 1
  era_duration_seconds: 1
  frequency_of_requests: "three minutes"
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tc.yaml))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestLoadKeyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oracle.key")
	// well-known throwaway key
	if err := os.WriteFile(path, []byte("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	cfg := OracleConfig{PrivateKeyFile: path}
	key, err := cfg.LoadKey()
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if key == nil {
		t.Fatal("LoadKey returned nil key")
	}
}

func TestLoadKeyMissingIsFatal(t *testing.T) {
	t.Setenv("ORACLE_PRIVATE_KEY", "")
	cfg := OracleConfig{}
	if _, err := cfg.LoadKey(); err == nil {
		t.Fatal("expected error for missing key, got nil")
	}
}
