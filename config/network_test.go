package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	n, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected missing config file to fall back to defaults, got %v", err)
	}
	if n.OrderServerPort != 9090 {
		t.Fatalf("expected default order server port 9090, got %d", n.OrderServerPort)
	}
	if n.SnapshotIntervalSec != 60 {
		t.Fatalf("expected default snapshot interval 60, got %d", n.SnapshotIntervalSec)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.yaml")
	contents := []byte("iface: eth0\norder_server_port: 7001\nticker_ids: [1, 2, 3]\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	n, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n.Iface != "eth0" || n.OrderServerPort != 7001 {
		t.Fatalf("expected overrides applied, got %+v", n)
	}
	if len(n.WireTickerIDs()) != 3 {
		t.Fatalf("expected 3 ticker ids, got %v", n.WireTickerIDs())
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("FEMTO_ORDER_SERVER_PORT", "5555")

	n, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n.OrderServerPort != 5555 {
		t.Fatalf("expected env override to win, got %d", n.OrderServerPort)
	}
}
