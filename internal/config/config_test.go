package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	p := writeFile(t, `
[server]
addr = "127.0.0.1:9000"
instance_id = "realm-a"

[network]
read_timeout = "30s"

[logging]
format = "json"

[federation]
enabled = true
relays = ["ws://relay-1:7777/v1/relay", "ws://relay-2:7777/v1/relay"]
secret = "s3"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" || cfg.Server.InstanceID != "realm-a" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Server.RoomFile != "configs/room.yaml" {
		t.Fatalf("room_file default lost: %q", cfg.Server.RoomFile)
	}
	if cfg.Network.ReadTimeout != 30*time.Second || cfg.Network.SendBuffer != 64 {
		t.Fatalf("network = %+v", cfg.Network)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "info" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if !cfg.Federation.Enabled || len(cfg.Federation.Relays) != 2 || cfg.Federation.DialTimeout != 5*time.Second {
		t.Fatalf("federation = %+v", cfg.Federation)
	}
}

func TestLoad_EmptyPathIsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.MaxMessageBytes != 64*1024 || !cfg.Persistence.Journal {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"no relays":  "[federation]\nenabled = true\n",
		"bad buffer": "[network]\nsend_buffer = 0\n",
		"syntax":     "[server\n",
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("missing file err = %v", err)
	}
}
