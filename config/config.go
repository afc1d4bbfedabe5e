package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/machinefabric/extbridge-go/bifaci"
)

// Config holds bridge configuration.
type Config struct {
	Transport TransportConfig
	Bus       BusConfig
	Session   SessionConfig
	Storage   StorageConfig
	Log       LogConfig
}

// TransportConfig holds framing limits. Its keys are those of bifaci.Limits.
type TransportConfig struct {
	bifaci.Limits `mapstructure:",squash"`
}

// BusConfig holds request correlator settings.
type BusConfig struct {
	// RequestTimeout fails a pending call after this long. Zero disables.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SessionConfig holds command lifecycle settings.
type SessionConfig struct {
	// UnloadTimeout bounds how long Unload waits for the runtime to ack.
	UnloadTimeout time.Duration `mapstructure:"unload_timeout"`
}

// StorageConfig holds sqlite settings for extension local storage.
type StorageConfig struct {
	Path string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.max_frame", bifaci.DefaultMaxFrame)
	v.SetDefault("bus.request_timeout", 30*time.Second)
	v.SetDefault("session.unload_timeout", 2*time.Second)
	v.SetDefault("storage.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "extbridge", "storage.db"))
	v.SetDefault("log.level", "info")
}

// Default returns the built-in defaults without reading files or env.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// Load reads configuration from file and env. Env var overrides use prefix EXTBRIDGE_.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("EXTBRIDGE_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "extbridge"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("EXTBRIDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values the bridge cannot run with.
func (c Config) Validate() error {
	if c.Transport.MaxFrame <= 0 {
		return fmt.Errorf("transport.max_frame must be positive, got %d", c.Transport.MaxFrame)
	}
	if c.Transport.MaxFrame > bifaci.MaxFrameHardLimit {
		return fmt.Errorf("transport.max_frame %d exceeds hard limit %d", c.Transport.MaxFrame, bifaci.MaxFrameHardLimit)
	}
	if c.Bus.RequestTimeout < 0 {
		return fmt.Errorf("bus.request_timeout must not be negative")
	}
	if c.Session.UnloadTimeout <= 0 {
		return fmt.Errorf("session.unload_timeout must be positive")
	}
	return nil
}
