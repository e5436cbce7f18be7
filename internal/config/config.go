package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// NodeConfig is the on-disk config for a wirechan server node.
type NodeConfig struct {
	Name        string        `toml:"name"`
	Addr        string        `toml:"addr"`
	AdminAddr   string        `toml:"admin_addr"`
	CorsOrigins []string      `toml:"cors_origins"`
	AdminToken  string        `toml:"admin_token"`
	Channel     ChannelConfig `toml:"channel"`
}

// ChannelConfig holds per-connection settings. Durations use time.ParseDuration
// syntax.
type ChannelConfig struct {
	BufferSize     int    `toml:"buffer_size"`
	Compression    string `toml:"compression"`
	ConnectTimeout string `toml:"connect_timeout"`
	WriteTimeout   string `toml:"write_timeout"`
}

func LoadNodeConfig(path string) (NodeConfig, error) {
	var cfg NodeConfig
	if err := loadToml(path, &cfg); err != nil {
		return NodeConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "wirechan"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":7400"
	}
	if err := ValidateNodeConfig(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateNodeConfig(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("node config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("node config missing addr")
	}
	if admin := strings.TrimSpace(cfg.AdminAddr); admin != "" && admin == strings.TrimSpace(cfg.Addr) {
		return fmt.Errorf("node config admin_addr must differ from addr")
	}
	if _, err := cfg.Channel.toChannel(); err != nil {
		return fmt.Errorf("channel invalid: %w", err)
	}
	return nil
}
