package config

// Configuration loading and validation for the CIP session client.

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tturner/cipsession/internal/cip"
	"github.com/tturner/cipsession/internal/enip"
	cerr "github.com/tturner/cipsession/internal/errors"
)

// ProtocolOverrides provides optional overrides for wire framing behavior.
type ProtocolOverrides struct {
	ENIPEndianness      string `yaml:"enip_endianness,omitempty"`       // "little" or "big"
	CIPEndianness       string `yaml:"cip_endianness,omitempty"`        // "little" or "big"
	CIPPathSize         *bool  `yaml:"cip_path_size,omitempty"`         // include path size byte
	CIPResponseReserved *bool  `yaml:"cip_response_reserved,omitempty"` // include reserved/status-size fields
	UseCPF              *bool  `yaml:"use_cpf,omitempty"`               // encode CPF items for SendRRData/SendUnitData
}

// Config is the process-wide configuration consumed at orchestrator
// construction. AuthToken is carried for the external HTTP surface and is
// never consumed by the core.
type Config struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	PoolSize  int    `yaml:"pool_size"`
	AuthToken string `yaml:"auth_token,omitempty"`

	HeartbeatIntervalMs   int    `yaml:"heartbeat_interval_ms,omitempty"`
	HeartbeatTimeoutMs    int    `yaml:"heartbeat_timeout_ms,omitempty"`
	HeartbeatFailureCount int    `yaml:"heartbeat_failure_count,omitempty"`
	KeepAlivePatternHex   string `yaml:"keep_alive_pattern_hex,omitempty"`
	RetryCount            int    `yaml:"retry_count,omitempty"`
	RetryBackoffBaseMs    int    `yaml:"retry_backoff_base_ms,omitempty"`
	RetryBackoffCapMs     int    `yaml:"retry_backoff_cap_ms,omitempty"`
	OperationTimeoutMs    int    `yaml:"operation_timeout_ms,omitempty"`

	Overrides ProtocolOverrides `yaml:"overrides,omitempty"`
}

// defaultKeepAlivePattern is sent as the NOP payload when the caller does
// not configure a pattern of their own. The bytes are opaque to the peer.
var defaultKeepAlivePattern = []byte{0xCA, 0xFE, 0x00, 0x01}

// Default returns the configuration defaults named in the external
// interface contract.
func Default() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 44818
	}
	if c.PoolSize == 0 {
		c.PoolSize = 2
	}
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = 1000
	}
	if c.HeartbeatTimeoutMs == 0 {
		c.HeartbeatTimeoutMs = 1000
	}
	if c.HeartbeatFailureCount == 0 {
		c.HeartbeatFailureCount = 3
	}
	if c.RetryCount == 0 {
		c.RetryCount = 5
	}
	if c.RetryBackoffBaseMs == 0 {
		c.RetryBackoffBaseMs = 200
	}
	if c.RetryBackoffCapMs == 0 {
		c.RetryBackoffCapMs = 3200
	}
	if c.OperationTimeoutMs == 0 {
		c.OperationTimeoutMs = 5000
	}
}

func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond
}

func (c Config) HeartbeatFailureLimit() int { return c.HeartbeatFailureCount }

func (c Config) RetryLimit() int { return c.RetryCount }

func (c Config) RetryBackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBaseMs) * time.Millisecond
}

func (c Config) RetryBackoffCap() time.Duration {
	return time.Duration(c.RetryBackoffCapMs) * time.Millisecond
}

func (c Config) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutMs) * time.Millisecond
}

// KeepAlivePattern returns the configured opaque keep-alive bytes, or the
// built-in default when none are configured. The pattern is never parsed.
func (c Config) KeepAlivePattern() []byte {
	if c.KeepAlivePatternHex == "" {
		return append([]byte(nil), defaultKeepAlivePattern...)
	}
	pattern, err := hex.DecodeString(c.KeepAlivePatternHex)
	if err != nil {
		return append([]byte(nil), defaultKeepAlivePattern...)
	}
	return pattern
}

// Validate checks the configuration for semantic errors.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return cerr.New(cerr.KindConfigInvalid, fmt.Sprintf("port must be in [0,65535], got %d", c.Port))
	}
	if c.PoolSize < 0 {
		return cerr.New(cerr.KindConfigInvalid, "pool_size must be >= 0")
	}
	if c.HeartbeatIntervalMs < 0 || c.HeartbeatTimeoutMs < 0 || c.HeartbeatFailureCount < 0 {
		return cerr.New(cerr.KindConfigInvalid, "heartbeat settings must be >= 0")
	}
	if c.RetryCount < 0 || c.RetryBackoffBaseMs < 0 || c.RetryBackoffCapMs < 0 {
		return cerr.New(cerr.KindConfigInvalid, "retry settings must be >= 0")
	}
	if c.OperationTimeoutMs < 0 {
		return cerr.New(cerr.KindConfigInvalid, "operation_timeout_ms must be >= 0")
	}
	if c.KeepAlivePatternHex != "" {
		if _, err := hex.DecodeString(c.KeepAlivePatternHex); err != nil {
			return cerr.Wrap(cerr.KindConfigInvalid, "keep_alive_pattern_hex is not valid hex", err)
		}
	}
	if err := validateEndianness("overrides.enip_endianness", c.Overrides.ENIPEndianness); err != nil {
		return err
	}
	if err := validateEndianness("overrides.cip_endianness", c.Overrides.CIPEndianness); err != nil {
		return err
	}
	return nil
}

func validateEndianness(field, value string) error {
	switch value {
	case "", "little", "big":
		return nil
	default:
		return cerr.New(cerr.KindConfigInvalid, fmt.Sprintf("%s must be 'little' or 'big', got %q", field, value))
	}
}

// Load reads a YAML configuration file, applies defaults, and validates.
// A missing file yields the pure defaults rather than an error.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, cerr.Wrap(cerr.KindConfigInvalid, fmt.Sprintf("read config file %s", path), err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, cerr.Wrap(cerr.KindConfigInvalid, fmt.Sprintf("parse %s", path), err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyWireOptions installs the protocol overrides into the codec
// packages' framing options.
func (c Config) ApplyWireOptions() {
	enipOpts := enip.CurrentOptions()
	if c.Overrides.ENIPEndianness == "big" {
		enipOpts.ByteOrder = binary.BigEndian
	} else if c.Overrides.ENIPEndianness == "little" {
		enipOpts.ByteOrder = binary.LittleEndian
	}
	if c.Overrides.UseCPF != nil {
		enipOpts.UseCPF = *c.Overrides.UseCPF
	}
	enip.SetOptions(enipOpts)

	cipOpts := cip.CurrentOptions()
	if c.Overrides.CIPEndianness == "big" {
		cipOpts.ByteOrder = binary.BigEndian
	} else if c.Overrides.CIPEndianness == "little" {
		cipOpts.ByteOrder = binary.LittleEndian
	}
	if c.Overrides.CIPPathSize != nil {
		cipOpts.IncludePathSize = *c.Overrides.CIPPathSize
	}
	if c.Overrides.CIPResponseReserved != nil {
		cipOpts.IncludeRespReserved = *c.Overrides.CIPResponseReserved
	}
	cip.SetOptions(cipOpts)
}
