package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the game hub.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Audio     AudioConfig     `mapstructure:"positional_audio"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// ServerConfig contains the listener and session settings.
type ServerConfig struct {
	ReliablePort int           `mapstructure:"reliable_port"`
	DatagramPort int           `mapstructure:"datagram_port"`
	MaxPlayers   int           `mapstructure:"max_players"`
	DebugLevel   int           `mapstructure:"debug_level"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// StoreConfig is passed through to the persistence backend.
type StoreConfig struct {
	DataDir       string `mapstructure:"data_dir"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// AudioConfig holds the default positional-gain distances. Rooms may
// override both via their settings map.
type AudioConfig struct {
	MinDist float64 `mapstructure:"min_dist"`
	MaxDist float64 `mapstructure:"max_dist"`
}

// SchedulerConfig controls the event scheduler.
type SchedulerConfig struct {
	AutoStart bool `mapstructure:"auto_start"`
	Workers   int  `mapstructure:"workers"` // 0 = NumCPU
}

// AdminConfig controls the HTTP admin surface.
type AdminConfig struct {
	Addr  string `mapstructure:"addr"`
	Token string `mapstructure:"token"` // empty disables mutating admin routes
}

// Load reads configuration from defaults, an optional gamehub.{yaml,json}
// file in the working directory, and GAMEHUB_-prefixed environment variables.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.reliable_port", 8080)
	v.SetDefault("server.datagram_port", 0) // 0 = reliable_port + 1
	v.SetDefault("server.max_players", 256)
	v.SetDefault("server.debug_level", 1)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Second)
	v.SetDefault("server.drain_timeout", 10*time.Second)

	v.SetDefault("store.data_dir", "data")
	v.SetDefault("store.encryption_key", "")

	v.SetDefault("positional_audio.min_dist", 1.0)
	v.SetDefault("positional_audio.max_dist", 50.0)

	v.SetDefault("scheduler.auto_start", true)
	v.SetDefault("scheduler.workers", 0)

	v.SetDefault("admin.addr", ":8090")
	v.SetDefault("admin.token", "")

	v.SetConfigName("gamehub")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("GAMEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The config file is optional; defaults plus env are a valid setup.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Server.ReliablePort <= 0 || c.Server.ReliablePort > 65535 {
		return fmt.Errorf("reliable_port %d out of range", c.Server.ReliablePort)
	}
	if c.Server.DatagramPort == 0 {
		c.Server.DatagramPort = c.Server.ReliablePort + 1
	}
	if c.Server.DatagramPort <= 0 || c.Server.DatagramPort > 65535 {
		return fmt.Errorf("datagram_port %d out of range", c.Server.DatagramPort)
	}
	if c.Server.DatagramPort == c.Server.ReliablePort {
		return fmt.Errorf("datagram_port must differ from reliable_port")
	}
	if c.Server.MaxPlayers <= 0 {
		return fmt.Errorf("max_players must be positive")
	}
	if c.Server.DebugLevel < 0 || c.Server.DebugLevel > 3 {
		return fmt.Errorf("debug_level must be 0..3")
	}
	if c.Audio.MinDist < 0 || c.Audio.MaxDist <= c.Audio.MinDist {
		return fmt.Errorf("positional_audio distances invalid: min=%v max=%v", c.Audio.MinDist, c.Audio.MaxDist)
	}
	return nil
}
