// Package config loads lanchat settings from defaults, an optional config
// file, LANCHAT_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"lanchat/internal/discovery"
	"lanchat/internal/transport"
)

// EnvPrefix is prepended to environment overrides, e.g. LANCHAT_CHAT_PORT.
const EnvPrefix = "LANCHAT"

// Config is the root application configuration.
type Config struct {
	// Username is this node's identity on the network.
	Username string `mapstructure:"username"`

	// KeysDir holds public.pem and private.pem.
	KeysDir string `mapstructure:"keys_dir"`
	// Passphrase seals the private key on disk when non-empty.
	Passphrase string `mapstructure:"passphrase"`

	Chat      ChatConfig      `mapstructure:"chat"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	UI        UIConfig        `mapstructure:"ui"`
	Log       LogConfig       `mapstructure:"log"`
}

// ChatConfig controls the TCP message listener.
type ChatConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DiscoveryConfig controls UDP presence announcements.
type DiscoveryConfig struct {
	Port int `mapstructure:"port"`
	// Broadcast overrides the broadcast address (host or host:port).
	Broadcast string        `mapstructure:"broadcast"`
	Interval  time.Duration `mapstructure:"interval"`
	Window    time.Duration `mapstructure:"window"`
}

// UIConfig selects the console front end.
type UIConfig struct {
	TUI   bool `mapstructure:"tui"`
	Sound bool `mapstructure:"sound"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// File is the log path, or "stderr".
	File string `mapstructure:"file"`

	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		KeysDir: "./keys",
		Chat: ChatConfig{
			Port: transport.DefaultPort,
		},
		Discovery: DiscoveryConfig{
			Port:     discovery.DefaultPort,
			Interval: discovery.DefaultInterval,
			Window:   discovery.DefaultWindow,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			File:   "logs/lanchat.log",
			Rotation: RotationConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"username":       "username",
	"keys":           "keys_dir",
	"passphrase":     "passphrase",
	"host":           "chat.host",
	"port":           "chat.port",
	"discovery-port": "discovery.port",
	"broadcast":      "discovery.broadcast",
	"tui":            "ui.tui",
	"sound":          "ui.sound",
	"log-level":      "log.level",
	"log-file":       "log.file",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("username", "u", "", "your username on the network")
	fs.String("keys", d.KeysDir, "directory holding the key pair")
	fs.String("passphrase", "", "passphrase sealing the private key")
	fs.String("host", d.Chat.Host, "address to accept chat connections on")
	fs.IntP("port", "p", d.Chat.Port, "TCP port for chat connections")
	fs.Int("discovery-port", d.Discovery.Port, "UDP port for peer discovery")
	fs.String("broadcast", "", "broadcast address override (host or host:port)")
	fs.Bool("tui", false, "run the full-screen terminal UI")
	fs.Bool("sound", false, "play a chime when a chat request arrives")
	fs.String("log-level", d.Log.Level, "log level: debug, info, warn, error")
	fs.String("log-file", d.Log.File, `log file path, or "stderr"`)
}

// Load reads configuration from path (if non-empty), otherwise it searches
// ./lanchat.* and ~/.lanchat/lanchat.*. Environment variables use the
// LANCHAT prefix with "." replaced by "_", e.g. LANCHAT_LOG_LEVEL=debug.
// Flags in fs that were set explicitly take precedence over everything.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs decode
	v.SetDefault("username", cfg.Username)
	v.SetDefault("keys_dir", cfg.KeysDir)
	v.SetDefault("passphrase", cfg.Passphrase)
	v.SetDefault("chat.host", cfg.Chat.Host)
	v.SetDefault("chat.port", cfg.Chat.Port)
	v.SetDefault("discovery.port", cfg.Discovery.Port)
	v.SetDefault("discovery.broadcast", cfg.Discovery.Broadcast)
	v.SetDefault("discovery.interval", cfg.Discovery.Interval)
	v.SetDefault("discovery.window", cfg.Discovery.Window)
	v.SetDefault("ui.tui", cfg.UI.TUI)
	v.SetDefault("ui.sound", cfg.UI.Sound)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lanchat")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lanchat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes cfg and reports the first invalid setting.
func (c *Config) Validate() error {
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" {
		return errors.New("username is required")
	}
	if strings.IndexFunc(c.Username, unicode.IsSpace) >= 0 {
		return fmt.Errorf("invalid username %q: must not contain spaces", c.Username)
	}
	if err := validPort("chat.port", c.Chat.Port); err != nil {
		return err
	}
	// peers announce to the same fixed port they listen on
	if c.Discovery.Port == 0 {
		return errors.New("invalid discovery.port: 0, a fixed port is required")
	}
	if err := validPort("discovery.port", c.Discovery.Port); err != nil {
		return err
	}
	if c.Discovery.Interval <= 0 {
		return fmt.Errorf("invalid discovery.interval: %s", c.Discovery.Interval)
	}
	if c.Discovery.Window <= c.Discovery.Interval {
		return fmt.Errorf("discovery.window (%s) must exceed discovery.interval (%s)", c.Discovery.Window, c.Discovery.Interval)
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if strings.TrimSpace(c.Log.File) == "" {
		c.Log.File = "stderr"
	}
	if c.KeysDir == "" {
		c.KeysDir = Default().KeysDir
	}
	return nil
}

func validPort(name string, p int) error {
	if p < 0 || p > 65535 {
		return fmt.Errorf("invalid %s: %d", name, p)
	}
	return nil
}
