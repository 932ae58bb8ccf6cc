package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverHTTP     = "http"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Chat        ChatConfig        `mapstructure:"chat"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	PongWait      time.Duration `mapstructure:"pong_wait"`
	WriteWait     time.Duration `mapstructure:"write_wait"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	InboundBuffer int           `mapstructure:"inbound_buffer"`
	HistoryOnJoin bool          `mapstructure:"history_on_join"`
	HistoryLimit  int           `mapstructure:"history_limit"`
}

type PersistenceConfig struct {
	Driver      string        `mapstructure:"driver"`
	DatabaseURL string        `mapstructure:"database_url"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type ChatConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
}

type RateLimitConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Backend       string        `mapstructure:"backend"`
	Limit         int           `mapstructure:"limit"`
	Window        time.Duration `mapstructure:"window"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. A .env file in the
// working directory is loaded into the environment first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		fileName = "config/config.yaml"
	}
	v.SetConfigFile(fileName)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("websocket.read_limit", 32768)
	v.SetDefault("websocket.ping_period", "54s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.inbound_buffer", 64)
	v.SetDefault("websocket.history_on_join", false)
	v.SetDefault("websocket.history_limit", 50)

	v.SetDefault("persistence.driver", DriverMemory)
	v.SetDefault("persistence.database_url", "")
	v.SetDefault("persistence.base_url", "")
	v.SetDefault("persistence.timeout", "5s")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("chat.max_content_length", 4000)

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.limit", 20)
	v.SetDefault("ratelimit.window", "10s")
	v.SetDefault("ratelimit.redis_addr", "localhost:6379")
	v.SetDefault("ratelimit.redis_password", "")
	v.SetDefault("ratelimit.redis_db", 0)
	v.SetDefault("ratelimit.prefix", "resource-chat:ratelimit:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (CHAT_AUTH_JWT_SECRET)")
	}

	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("unknown server.mode %q", c.Server.Mode)
	}

	switch c.Persistence.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Persistence.DatabaseURL == "" {
			return errors.New("persistence.database_url is required for the postgres driver")
		}
	case DriverHTTP:
		if c.Persistence.BaseURL == "" {
			return errors.New("persistence.base_url is required for the http driver")
		}
	default:
		return fmt.Errorf("unknown persistence driver %q", c.Persistence.Driver)
	}

	if c.Persistence.Timeout <= 0 {
		return errors.New("persistence.timeout must be positive")
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return errors.New("websocket.ping_period must be shorter than websocket.pong_wait")
	}
	if c.WebSocket.SendBuffer <= 0 || c.WebSocket.InboundBuffer <= 0 {
		return errors.New("websocket buffers must be positive")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
			return fmt.Errorf("unknown ratelimit backend %q", c.RateLimit.Backend)
		}
		if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
			return errors.New("ratelimit.limit and ratelimit.window must be positive")
		}
	}
	return nil
}
