// Package config holds the construction-time settings of a pub/sub facade.
package config

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "PUBSUB"

// Config describes how to reach the bus and how to scope event names.
// It is immutable once handed to a facade.
type Config struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Auth   string `mapstructure:"auth"`
	Prefix string `mapstructure:"prefix"`
	// URL is a redis:// or rediss:// URL; when set it wins over Host and Port.
	URL string `mapstructure:"url"`
}

// Default returns the local Redis defaults.
func Default() Config {
	return Config{Host: "127.0.0.1", Port: 6379}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("auth", "")
	v.SetDefault("prefix", "")
	v.SetDefault("url", "")
}

// Load reads the configuration from v, which may already carry a config file,
// overlaid with PUBSUB_* environment variables. A nil v uses a fresh instance.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c Config) Validate() error {
	if c.URL != "" {
		if _, err := redis.ParseURL(c.URL); err != nil {
			return errors.Wrap(err, "invalid url")
		}
		return nil
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// Addr returns host:port with defaults applied to missing parts.
func (c Config) Addr() string {
	d := Default()
	host, port := c.Host, c.Port
	if host == "" {
		host = d.Host
	}
	if port == 0 {
		port = d.Port
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// RedisOptions builds the go-redis options for one bus connection.
func (c Config) RedisOptions() (*redis.Options, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, errors.Wrap(err, "invalid url")
		}
		if c.Auth != "" && opts.Password == "" {
			opts.Password = c.Auth
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.Addr(), Password: c.Auth}, nil
}
