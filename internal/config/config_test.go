package config

import (
	"os"
	"path/filepath"
	"testing"

	"satmon/internal/defs"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, `{
		"satellite": "G18",
		"receiver": "standalone",
		"standalone": {"host": "192.168.1.2"}
	}`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Standalone.Port != DefaultSNMPPort {
		t.Fatalf("port=%d", cfg.Standalone.Port)
	}
	if cfg.Standalone.Community != DefaultSNMPCommunity {
		t.Fatalf("community=%q", cfg.Standalone.Community)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestValidate_RejectsUnknownSatellite(t *testing.T) {
	t.Parallel()

	cfg := Config{Satellite: "XYZ", Receiver: defs.KindSDR}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate_RequiresKindSpecificSection(t *testing.T) {
	t.Parallel()

	cfg := Config{Satellite: "G18", Receiver: defs.KindStandalone}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected standalone.host error")
	}

	cfg.Standalone = &StandaloneConfig{Host: "10.0.0.2"}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestValidate_USBNeedsChannelConf(t *testing.T) {
	t.Parallel()

	cfg := Config{Satellite: "T11N EU", Receiver: defs.KindUSB, USB: &USBConfig{}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected usb.channel_conf error")
	}
}
