package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/avchat/roomkit/ident"
)

// Config carries the host-application settings recognized by the library.
// SignalingURL, when set, overrides URL auto-derivation entirely.
type Config struct {
	SignalingURL string `mapstructure:"signaling_url"`
	RoomID       string `mapstructure:"room_id"`
	Password     string `mapstructure:"password"`
	Identity     string `mapstructure:"identity"`
	Name         string `mapstructure:"name"`

	ProductionHost string `mapstructure:"production_host"`
	ProductionURL  string `mapstructure:"production_url"`
	DevPort        int    `mapstructure:"dev_port"`
	FallbackPath   string `mapstructure:"fallback_path"`

	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults when
// no file is present.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFrom(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFrom reads the given config file. A missing file is not an error;
// defaults apply.
func LoadFrom(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	def := ident.DefaultResolver()
	v.SetDefault("production_host", def.ProductionHost)
	v.SetDefault("production_url", def.ProductionURL)
	v.SetDefault("dev_port", def.DevPort)
	v.SetDefault("fallback_path", def.FallbackPath)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("reconnect_attempts", 3)
	v.SetDefault("reconnect_interval", "2s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Resolver builds the URL resolver from the configured derivation inputs.
func (c *Config) Resolver() ident.Resolver {
	return ident.Resolver{
		ProductionHost: c.ProductionHost,
		ProductionURL:  c.ProductionURL,
		DevPort:        c.DevPort,
		FallbackPath:   c.FallbackPath,
	}
}

// ResolveSignalingURL returns the explicit override when present, otherwise
// derives the endpoint from the host context.
func (c *Config) ResolveSignalingURL(hc ident.HostContext) string {
	if c.SignalingURL != "" {
		return c.SignalingURL
	}
	return c.Resolver().DeriveSignalingURL(hc)
}
