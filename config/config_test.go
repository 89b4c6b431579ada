package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(DataDirEnv, tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.InstanceID == "" {
		t.Fatalf("expected non-empty instance ID")
	}
	if firstCfg.PortMode != PortModeAutomatic {
		t.Fatalf("expected default port mode %q, got %q", PortModeAutomatic, firstCfg.PortMode)
	}
	if firstCfg.Transport != TransportTCP {
		t.Fatalf("expected default transport %q, got %q", TransportTCP, firstCfg.Transport)
	}
	if got := firstCfg.ListenAddress(); got != ":0" {
		t.Fatalf("expected automatic listen address :0, got %q", got)
	}
	if firstCfg.NannyInterval() != time.Second {
		t.Fatalf("expected 1s nanny interval, got %s", firstCfg.NannyInterval())
	}
	if firstCfg.LivenessTimeout() != 10*time.Second {
		t.Fatalf("expected 10s liveness timeout, got %s", firstCfg.LivenessTimeout())
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.InstanceID != firstCfg.InstanceID {
		t.Fatalf("expected stable instance ID, got %q then %q", firstCfg.InstanceID, secondCfg.InstanceID)
	}
}

func TestLoadOrCreateNormalizesPartialConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(DataDirEnv, tempDir)

	cfgPath := filepath.Join(tempDir, "config.json")
	partial := &AppConfig{
		InstanceID:     "fixed-instance",
		PlayerName:     "Alice",
		Transport:      "carrier-pigeon",
		ListeningPort:  9000,
		AwaitTimeoutMS: 2500,
	}
	if err := Save(cfgPath, partial); err != nil {
		t.Fatalf("Save partial config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.InstanceID != "fixed-instance" || cfg.PlayerName != "Alice" {
		t.Fatalf("expected identity fields to be retained, got %+v", cfg)
	}
	if cfg.PortMode != PortModeFixed || cfg.ListenAddress() != ":9000" {
		t.Fatalf("expected fixed mode on :9000, got %q %q", cfg.PortMode, cfg.ListenAddress())
	}
	if cfg.Transport != TransportTCP {
		t.Fatalf("expected unknown transport to fall back to tcp, got %q", cfg.Transport)
	}
	if cfg.AwaitTimeout() != 2500*time.Millisecond {
		t.Fatalf("expected configured await timeout to be retained, got %s", cfg.AwaitTimeout())
	}
	if cfg.AutosaveInterval() != DefaultAutosaveInterval {
		t.Fatalf("expected default autosave interval, got %s", cfg.AutosaveInterval())
	}

	reloaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.NannyIntervalMS != DefaultNannyInterval.Milliseconds() {
		t.Fatalf("expected normalized config to be persisted, got %d", reloaded.NannyIntervalMS)
	}
}
