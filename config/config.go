package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "invsync"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "INVSYNC_DATA_DIR"
	// DefaultListeningPort is the port used in fixed mode when none is set.
	DefaultListeningPort = 7777
	// PortModeAutomatic picks an available port at launch.
	PortModeAutomatic = "automatic"
	// PortModeFixed uses the configured listening port value.
	PortModeFixed = "fixed"
	// TransportTCP selects length-prefixed frames over TCP.
	TransportTCP = "tcp"
	// TransportWebSocket selects one WebSocket message per envelope.
	TransportWebSocket = "ws"

	DefaultNannyInterval    = time.Second
	DefaultLivenessTimeout  = 10 * time.Second
	DefaultAwaitTimeout     = 10 * time.Second
	DefaultAutosaveInterval = 30 * time.Second

	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// AppConfig contains persistent local settings.
type AppConfig struct {
	InstanceID         string `json:"instance_id"`
	PlayerName         string `json:"player_name"`
	Transport          string `json:"transport"`
	PortMode           string `json:"port_mode"`
	ListeningPort      int    `json:"listening_port"`
	NannyIntervalMS    int64  `json:"nanny_interval_ms"`
	LivenessTimeoutMS  int64  `json:"liveness_timeout_ms"`
	AwaitTimeoutMS     int64  `json:"await_timeout_ms"`
	AutosaveIntervalMS int64  `json:"autosave_interval_ms"`
	DisableDiscovery   bool   `json:"disable_discovery"`
}

// ListenAddress returns the host listen address for the configured port.
func (c *AppConfig) ListenAddress() string {
	if c.PortMode == PortModeFixed {
		return ":" + strconv.Itoa(c.ListeningPort)
	}
	return ":0"
}

func (c *AppConfig) NannyInterval() time.Duration {
	return time.Duration(c.NannyIntervalMS) * time.Millisecond
}

func (c *AppConfig) LivenessTimeout() time.Duration {
	return time.Duration(c.LivenessTimeoutMS) * time.Millisecond
}

func (c *AppConfig) AwaitTimeout() time.Duration {
	return time.Duration(c.AwaitTimeoutMS) * time.Millisecond
}

func (c *AppConfig) AutosaveInterval() time.Duration {
	return time.Duration(c.AutosaveIntervalMS) * time.Millisecond
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If INVSYNC_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *AppConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns
// the config and its path.
func LoadOrCreate() (*AppConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = &AppConfig{}
		normalizeDefaults(cfg)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// normalizeDefaults fills unset fields and reports whether anything changed.
func normalizeDefaults(cfg *AppConfig) bool {
	updated := false

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
		updated = true
	}

	switch cfg.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		cfg.Transport = TransportTCP
		updated = true
	}

	mode := normalizePortMode(cfg.PortMode)
	if mode == "" {
		if cfg.ListeningPort > 0 {
			mode = PortModeFixed
		} else {
			mode = PortModeAutomatic
		}
	}
	if cfg.PortMode != mode {
		cfg.PortMode = mode
		updated = true
	}
	if cfg.PortMode == PortModeFixed && cfg.ListeningPort == 0 {
		cfg.ListeningPort = DefaultListeningPort
		updated = true
	}
	if cfg.PortMode == PortModeAutomatic && cfg.ListeningPort < 0 {
		cfg.ListeningPort = 0
		updated = true
	}

	for _, field := range []struct {
		value *int64
		def   time.Duration
	}{
		{&cfg.NannyIntervalMS, DefaultNannyInterval},
		{&cfg.LivenessTimeoutMS, DefaultLivenessTimeout},
		{&cfg.AwaitTimeoutMS, DefaultAwaitTimeout},
		{&cfg.AutosaveIntervalMS, DefaultAutosaveInterval},
	} {
		if *field.value <= 0 {
			*field.value = field.def.Milliseconds()
			updated = true
		}
	}

	return updated
}

func normalizePortMode(mode string) string {
	switch mode {
	case PortModeAutomatic:
		return PortModeAutomatic
	case PortModeFixed:
		return PortModeFixed
	default:
		return ""
	}
}
