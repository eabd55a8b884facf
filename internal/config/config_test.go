package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Host != "127.0.0.1" {
		t.Errorf("host: got %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 44818 {
		t.Errorf("port: got %d, want 44818", cfg.Port)
	}
	if cfg.PoolSize != 2 {
		t.Errorf("pool_size: got %d, want 2", cfg.PoolSize)
	}
	if cfg.AuthToken != "" {
		t.Errorf("auth_token: got %q, want empty", cfg.AuthToken)
	}
	if cfg.HeartbeatIntervalMs != 1000 {
		t.Errorf("heartbeat_interval_ms: got %d, want 1000", cfg.HeartbeatIntervalMs)
	}
	if cfg.RetryCount != 5 {
		t.Errorf("retry_count: got %d, want 5", cfg.RetryCount)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "negative pool", mutate: func(c *Config) { c.PoolSize = -1 }, wantErr: true},
		{name: "bad pattern hex", mutate: func(c *Config) { c.KeepAlivePatternHex = "zz" }, wantErr: true},
		{name: "bad endianness", mutate: func(c *Config) { c.Overrides.ENIPEndianness = "middle" }, wantErr: true},
		{name: "big endian override", mutate: func(c *Config) { c.Overrides.CIPEndianness = "big" }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does_not_exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 44818 {
		t.Errorf("expected defaults, got %s:%d", cfg.Host, cfg.Port)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cipsession.yaml")
	payload := []byte("host: 10.0.0.50\nport: 2222\npool_size: 4\nkeep_alive_pattern_hex: \"cafe0001\"\n")
	if err := os.WriteFile(path, payload, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "10.0.0.50" {
		t.Errorf("host: got %q", cfg.Host)
	}
	if cfg.Port != 2222 {
		t.Errorf("port: got %d", cfg.Port)
	}
	if cfg.PoolSize != 4 {
		t.Errorf("pool_size: got %d", cfg.PoolSize)
	}
	if !bytes.Equal(cfg.KeepAlivePattern(), []byte{0xCA, 0xFE, 0x00, 0x01}) {
		t.Errorf("pattern: got %x", cfg.KeepAlivePattern())
	}
	// Defaults still fill the unspecified fields.
	if cfg.OperationTimeoutMs != 5000 {
		t.Errorf("operation_timeout_ms: got %d", cfg.OperationTimeoutMs)
	}
}

func TestKeepAlivePatternOpaque(t *testing.T) {
	cfg := Default()
	cfg.KeepAlivePatternHex = "deadbeef00"
	if !bytes.Equal(cfg.KeepAlivePattern(), []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00}) {
		t.Errorf("pattern not passed through verbatim: %x", cfg.KeepAlivePattern())
	}
}
