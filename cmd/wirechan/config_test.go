package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/wirechan/internal/channel"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadClientConfigDefaultsAndOverrides(t *testing.T) {
	path := writeFile(t, "client.toml", `
buffer_size = 16384
compression = " S2 "
connect_timeout = "750ms"
max_connect_attempts = 9
retry_initial_delay = "10ms"
`)
	cfg, err := loadClientConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Channel.BufferSize != 16384 {
		t.Fatalf("unexpected buffer size: %d", cfg.Channel.BufferSize)
	}
	if cfg.Channel.Compression != "s2" {
		t.Fatalf("unexpected compression: %q", cfg.Channel.Compression)
	}
	if cfg.Channel.ConnectTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected connect timeout: %v", cfg.Channel.ConnectTimeout)
	}
	if cfg.Channel.WriteTimeout != channel.DefaultConfig().WriteTimeout {
		t.Fatalf("write timeout should keep default, got %v", cfg.Channel.WriteTimeout)
	}
	if cfg.Retry.MaxAttempts != 9 || cfg.Retry.InitialDelay != 10*time.Millisecond {
		t.Fatalf("unexpected retry config: %+v", cfg.Retry)
	}
}

func TestLoadClientConfigMillisecondOverride(t *testing.T) {
	path := writeFile(t, "client.toml", "connect_timeout = \"5s\"\nconnect_timeout_ms = 125\n")
	cfg, err := loadClientConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Channel.ConnectTimeout != 125*time.Millisecond {
		t.Fatalf("unexpected connect timeout: %v", cfg.Channel.ConnectTimeout)
	}
}

func TestLoadClientConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"buffer":   "buffer_size = 7\n",
		"codec":    "compression = \"gzip\"\n",
		"duration": "write_timeout = \"fast\"\n",
		"syntax":   "buffer_size = = 1\n",
	}
	for name, body := range cases {
		if _, err := loadClientConfig(writeFile(t, name+".toml", body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestResolveServerConfigOverrides(t *testing.T) {
	path := writeFile(t, "node.toml", "name = \"edge\"\naddr = \":9100\"\n[channel]\ncompression = \"lz4\"\n")
	cfg, err := resolveServerConfig(&serveOptions{config: path, admin: "127.0.0.1:9101"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Name != "edge" || cfg.ListenAddr != ":9100" || cfg.AdminAddr != "127.0.0.1:9101" {
		t.Fatalf("unexpected server config: %+v", cfg)
	}
	if cfg.Channel.Compression != "lz4" {
		t.Fatalf("unexpected compression: %q", cfg.Channel.Compression)
	}

	cfg, err = resolveServerConfig(&serveOptions{addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("resolve defaults: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:0" || cfg.Channel.Compression != "lzf" {
		t.Fatalf("unexpected default config: %+v", cfg)
	}
}
