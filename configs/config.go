package configs

import (
	"strings"

	"mjpeghub/internal/snapshot"
	"mjpeghub/internal/source"
	"mjpeghub/internal/stream"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"log/slog"
)

type Server struct {
	// Addr is the raw MJPEG stream listener address
	Addr string `mapstructure:"addr"`

	// OpsAddr is the metrics/health/snapshot HTTP address; empty disables it
	OpsAddr string `mapstructure:"ops_addr"`

	Stream stream.Config `mapstructure:"stream"`
}

type Source struct {
	Enabled bool          `mapstructure:"enabled"`
	NATS    source.Config `mapstructure:"nats"`
}

type Snapshot struct {
	Enabled bool            `mapstructure:"enabled"`
	Redis   snapshot.Config `mapstructure:"redis"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server   `mapstructure:"server"`
	Source   `mapstructure:"source"`
	Snapshot `mapstructure:"snapshot"`
	Log      `mapstructure:"log"`
	Version  string `mapstructure:"version"`
}

// NewDefaultConfig creates a new Config with default values
func NewDefaultConfig() Config {
	config := Config{}

	config.Server.Addr = ":8088"
	config.Server.OpsAddr = ""
	config.Server.Stream = stream.DefaultConfig()

	config.Source.Enabled = false
	config.Source.NATS = source.DefaultConfig()

	config.Snapshot.Enabled = false
	config.Snapshot.Redis = snapshot.DefaultConfig()

	config.Log.Level = "info"
	config.Version = "dev"

	return config
}

// LoadConfig loads configuration from the specified file
func LoadConfig(configFile string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("MJPEGHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		slog.Error("Failed to read config file, using default config", "error", err)
		return NewDefaultConfig(), nil
	}

	config := NewDefaultConfig()
	if err := v.Unmarshal(&config); err != nil {
		slog.Error("Failed to unmarshal config, using default config", "error", err)
		return NewDefaultConfig(), nil
	}

	SetupConfigHotReload(v, &config)

	return config, nil
}

// SetupConfigHotReload sets up hot reload for the configuration file
func SetupConfigHotReload(v *viper.Viper, config *Config) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("Config file changed")

		if err := v.Unmarshal(config); err != nil {
			slog.Error("Failed to unmarshal updated config", "error", err)
			return
		}

		slog.Info("Config reloaded successfully")
	})
}

// ParseLogLevel parses a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
