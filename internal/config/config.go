package config

import (
	"crypto/ecdsa"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"
)

// ============================================================
// MAIN CONFIG
// ============================================================

type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Para       ParaConfig       `yaml:"para"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Timing     TimingConfig     `yaml:"timing"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// ============================================================
// CHAIN CONFIG
// ============================================================

type RelayConfig struct {
	URLs       []string `yaml:"urls"`
	SS58Format uint16   `yaml:"ss58_format"`
}

type ParaConfig struct {
	URLs         []string `yaml:"urls"`
	ContractAddr string   `yaml:"contract_addr"`
}

// ============================================================
// ORACLE CONFIG
// ============================================================

type OracleConfig struct {
	// The signing key is read from private_key_file if set, otherwise from
	// the ORACLE_PRIVATE_KEY environment variable. Never stored in yaml.
	PrivateKeyFile       string `yaml:"private_key_file"`
	DebugMode            bool   `yaml:"debug_mode"`
	GasLimit             uint64 `yaml:"gas_limit"`
	MaxPriorityFeePerGas uint64 `yaml:"max_priority_fee_per_gas"`
}

// ============================================================
// TIMING CONFIG
// ============================================================

type TimingConfig struct {
	EraDurationBlocks   uint64 `yaml:"era_duration_blocks"`
	EraDurationSeconds  uint64 `yaml:"era_duration_seconds"`
	FrequencyOfRequests string `yaml:"frequency_of_requests"`
	EraUpdateDelay      string `yaml:"era_update_delay"`
	EraDelayTime        string `yaml:"era_delay_time"`
	ConnectTimeout      string `yaml:"connect_timeout"`
	SubmitTimeout       string `yaml:"submit_timeout"`
	ShutdownGrace       string `yaml:"shutdown_grace"`
}

// ============================================================
// ALERTS CONFIG
// ============================================================

type AlertsConfig struct {
	Channels AlertChannels `yaml:"channels"`
}

type AlertChannels struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type SlackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
}

// ============================================================
// PROMETHEUS CONFIG
// ============================================================

type PrometheusConfig struct {
	MetricsPrefix string `yaml:"metrics_prefix"`
	Port          int    `yaml:"port"`
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

// ParseDuration parses duration strings like "1m", "5m", "30s"
func ParseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (t TimingConfig) Frequency() time.Duration { return ParseDuration(t.FrequencyOfRequests) }
func (t TimingConfig) EraUpdateDelayDur() time.Duration { return ParseDuration(t.EraUpdateDelay) }
func (t TimingConfig) EraDelayTimeDur() time.Duration { return ParseDuration(t.EraDelayTime) }
func (t TimingConfig) ConnectTimeoutDur() time.Duration { return ParseDuration(t.ConnectTimeout) }
func (t TimingConfig) SubmitTimeoutDur() time.Duration { return ParseDuration(t.SubmitTimeout) }
func (t TimingConfig) ShutdownGraceDur() time.Duration { return ParseDuration(t.ShutdownGrace) }

// ============================================================
// LOAD FUNCTION
// ============================================================

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults
	if cfg.Relay.SS58Format == 0 {
		cfg.Relay.SS58Format = 42
	}
	if cfg.Oracle.GasLimit == 0 {
		cfg.Oracle.GasLimit = 10_000_000
	}
	if cfg.Timing.FrequencyOfRequests == "" {
		cfg.Timing.FrequencyOfRequests = "180s"
	}
	if cfg.Timing.EraUpdateDelay == "" {
		cfg.Timing.EraUpdateDelay = "360s"
	}
	if cfg.Timing.EraDelayTime == "" {
		cfg.Timing.EraDelayTime = "600s"
	}
	if cfg.Timing.ConnectTimeout == "" {
		cfg.Timing.ConnectTimeout = "60s"
	}
	if cfg.Timing.SubmitTimeout == "" {
		cfg.Timing.SubmitTimeout = "120s"
	}
	if cfg.Timing.ShutdownGrace == "" {
		cfg.Timing.ShutdownGrace = "600s"
	}
	if cfg.Prometheus.Port == 0 {
		cfg.Prometheus.Port = 8000
	}

	return &cfg, nil
}

// Validate checks everything the daemon cannot run without. It is called
// once at startup; any error here is fatal.
func (c *Config) Validate() error {
	if len(c.Relay.URLs) == 0 {
		return fmt.Errorf("relay.urls: at least one relay chain endpoint is required")
	}
	if err := checkURLs(c.Relay.URLs); err != nil {
		return fmt.Errorf("relay.urls: %w", err)
	}
	if len(c.Para.URLs) == 0 {
		return fmt.Errorf("para.urls: at least one parachain endpoint is required")
	}
	if err := checkURLs(c.Para.URLs); err != nil {
		return fmt.Errorf("para.urls: %w", err)
	}
	if c.Para.ContractAddr == "" {
		return fmt.Errorf("para.contract_addr: the OracleMaster address is not provided")
	}
	if !common.IsHexAddress(c.Para.ContractAddr) {
		return fmt.Errorf("para.contract_addr: %q is not a valid address", c.Para.ContractAddr)
	}
	if c.Timing.EraDurationBlocks == 0 {
		return fmt.Errorf("timing.era_duration_blocks must be a positive integer")
	}
	if c.Timing.EraDurationSeconds == 0 {
		return fmt.Errorf("timing.era_duration_seconds must be a positive integer")
	}
	for name, v := range map[string]string{
		"timing.frequency_of_requests": c.Timing.FrequencyOfRequests,
		"timing.era_update_delay":      c.Timing.EraUpdateDelay,
		"timing.era_delay_time":        c.Timing.EraDelayTime,
		"timing.connect_timeout":       c.Timing.ConnectTimeout,
		"timing.submit_timeout":        c.Timing.SubmitTimeout,
		"timing.shutdown_grace":        c.Timing.ShutdownGrace,
	} {
		if ParseDuration(v) <= 0 {
			return fmt.Errorf("%s: %q is not a valid duration", name, v)
		}
	}
	return nil
}

func checkURLs(urls []string) error {
	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", u, err)
		}
		switch parsed.Scheme {
		case "ws", "wss", "http", "https":
		default:
			return fmt.Errorf("invalid url %q: unsupported scheme %q", u, parsed.Scheme)
		}
		if parsed.Hostname() == "" {
			return fmt.Errorf("invalid url %q: missing host", u)
		}
	}
	return nil
}

// ContractAddress returns the validated OracleMaster address.
func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Para.ContractAddr)
}

// LoadKey loads the oracle signing key from the configured file, falling
// back to the ORACLE_PRIVATE_KEY environment variable. A missing or
// malformed key is fatal: the daemon must not start the loop without it.
func (c *OracleConfig) LoadKey() (*ecdsa.PrivateKey, error) {
	if c.PrivateKeyFile != "" {
		data, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		hexKey := strings.TrimSpace(strings.Split(string(data), "\n")[0])
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", c.PrivateKeyFile, err)
		}
		return key, nil
	}

	hexKey := os.Getenv("ORACLE_PRIVATE_KEY")
	if hexKey == "" {
		return nil, fmt.Errorf("no signing key: set oracle.private_key_file or ORACLE_PRIVATE_KEY")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse ORACLE_PRIVATE_KEY: %w", err)
	}
	return key, nil
}
