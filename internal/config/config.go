// Package config loads and persists the service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"paperwave/internal/log"
)

// BasicAuth protects the web UI when both fields are set.
type BasicAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (b BasicAuth) Enabled() bool {
	return b.Username != "" && b.Password != ""
}

// Bus holds the hardware wiring. Empty strings mean "use the defaults for
// the detected panel family"; only boards with non-standard wiring need
// to fill these in.
type Bus struct {
	SPIPort  string `yaml:"spi_port"`
	I2CBus   string `yaml:"i2c_bus"`
	CS0Pin   string `yaml:"cs0_pin"`
	CS1Pin   string `yaml:"cs1_pin"`
	DCPin    string `yaml:"dc_pin"`
	ResetPin string `yaml:"reset_pin"`
	BusyPin  string `yaml:"busy_pin"`
}

type Config struct {
	Listen      string    `yaml:"listen"`
	Bus         Bus       `yaml:"bus"`
	Border      uint8     `yaml:"border"`
	Saturation  float64   `yaml:"saturation"`
	Lighten     float64   `yaml:"lighten"`
	RefreshCron string    `yaml:"refresh_cron"`
	Auth        BasicAuth `yaml:"auth"`
	LogLevel    string    `yaml:"log_level"`
	StatePath   string    `yaml:"state_path"`
}

func DefaultConfig() Config {
	return Config{
		Listen:      ":8080",
		Saturation:  0.5,
		Lighten:     0,
		RefreshCron: "",
		LogLevel:    "info",
		StatePath:   "/var/lib/paperwave/state.yaml",
	}
}

// Normalize clamps out-of-range values rather than failing: a hand-edited
// config with saturation 1.3 should degrade, not brick the service.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Saturation < 0 {
		c.Saturation = 0
	}
	if c.Saturation > 1 {
		c.Saturation = 1
	}
	if c.Lighten < 0 {
		c.Lighten = 0
	}
	if c.Lighten > 1 {
		c.Lighten = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.StatePath == "" {
		c.StatePath = "/var/lib/paperwave/state.yaml"
	}
}

// Load reads path, creating it with defaults on first run.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
		log.Info("wrote default config", "path", path)
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes the config atomically via a temp file in the same directory.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("config: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("config: chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("config: rename %s: %w", tmpName, err)
	}
	return nil
}
