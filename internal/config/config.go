// Package config loads service settings from defaults, an optional config
// file and SPOOL_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SPOOL_LOG_LEVEL
const EnvPrefix = "SPOOL"

const registryFile = "printer_registry.json"

// Config holds the service settings
type Config struct {
	Addr         string
	RegistryPath string

	LogLevel  string
	LogFormat string

	HostDialTimeout   time.Duration
	HostDefaultPort   int
	FetchTimeout      time.Duration
	FetchMaxBytes     int64
	SerialReadTimeout time.Duration

	LP     string
	LPStat string

	RenderDPI float64
}

func defaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:12212")
	v.SetDefault("registry_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("host.dial_timeout", 5*time.Second)
	v.SetDefault("host.default_port", 9100)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_bytes", 64<<20)
	v.SetDefault("serial.read_timeout", 100*time.Millisecond)
	v.SetDefault("cups.lp", "lp")
	v.SetDefault("cups.lpstat", "lpstat")
	v.SetDefault("render.dpi", 150)
}

// Load reads the settings. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Addr:              v.GetString("addr"),
		RegistryPath:      v.GetString("registry_path"),
		LogLevel:          v.GetString("log.level"),
		LogFormat:         v.GetString("log.format"),
		HostDialTimeout:   v.GetDuration("host.dial_timeout"),
		HostDefaultPort:   v.GetInt("host.default_port"),
		FetchTimeout:      v.GetDuration("fetch.timeout"),
		FetchMaxBytes:     v.GetInt64("fetch.max_bytes"),
		SerialReadTimeout: v.GetDuration("serial.read_timeout"),
		LP:                v.GetString("cups.lp"),
		LPStat:            v.GetString("cups.lpstat"),
		RenderDPI:         v.GetFloat64("render.dpi"),
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = DefaultRegistryPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr is required")
	}
	if c.HostDefaultPort < 1 || c.HostDefaultPort > 65535 {
		return fmt.Errorf("config: host.default_port %d out of range", c.HostDefaultPort)
	}
	if c.HostDialTimeout <= 0 || c.FetchTimeout <= 0 || c.SerialReadTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	if c.FetchMaxBytes <= 0 {
		return fmt.Errorf("config: fetch.max_bytes must be positive")
	}
	if c.RenderDPI <= 0 {
		return fmt.Errorf("config: render.dpi must be positive")
	}
	return nil
}

// DefaultRegistryPath places the registry next to the executable when that
// directory is writable, then in the working directory, then in the user
// config directory.
func DefaultRegistryPath() string {
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		if writable(exeDir) {
			return filepath.Join(exeDir, registryFile)
		}
	}

	if wd, err := os.Getwd(); err == nil && writable(wd) {
		return filepath.Join(wd, registryFile)
	}

	var configDir string
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			configDir = filepath.Join(appData, "spool-engine")
		} else {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "spool-engine")
		}
	} else if home := os.Getenv("HOME"); home != "" {
		configDir = filepath.Join(home, ".config", "spool-engine")
	}

	if configDir != "" {
		return filepath.Join(configDir, registryFile)
	}
	return registryFile
}

func writable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	probe := filepath.Join(dir, ".spool-engine-write-test")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}
