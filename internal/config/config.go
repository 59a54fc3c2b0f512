package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix      = "ARENA"
	envConfigPath  = "ARENA_CONFIG"
	defaultCfgName = "arena.yaml"
)

type AppConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`

	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	KeyPrefix   string `mapstructure:"key_prefix" yaml:"key_prefix"`

	JWTSecret          string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer          string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience        string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	AllowExpiredInGame bool   `mapstructure:"allow_expired_in_game" yaml:"allow_expired_in_game"`

	TickInterval  time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	CleanupGrace  time.Duration `mapstructure:"cleanup_grace" yaml:"cleanup_grace"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	DefaultRating int           `mapstructure:"default_rating" yaml:"default_rating"`

	MessageDir   string `mapstructure:"message_dir" yaml:"message_dir"`
	PersistQueue int    `mapstructure:"persist_queue" yaml:"persist_queue"`

	WSPingInterval time.Duration `mapstructure:"ws_ping_interval" yaml:"ws_ping_interval"`
	WSSendBuffer   int           `mapstructure:"ws_send_buffer" yaml:"ws_send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ChatMaxLen     int           `mapstructure:"chat_max_len" yaml:"chat_max_len"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Addr:               ":8080",
		KeyPrefix:          "arena:",
		AllowExpiredInGame: true,
		TickInterval:       100 * time.Millisecond,
		CleanupGrace:       300 * time.Second,
		SweepInterval:      5 * time.Second,
		DefaultRating:      1000,
		PersistQueue:       256,
		WSPingInterval:     30 * time.Second,
		WSSendBuffer:       64,
		ChatMaxLen:         500,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Load resolves configuration: defaults < yaml file < ARENA_* env vars.
// REDIS_URL, DATABASE_URL and JWT_SECRET are honoured without the prefix as well.
func Load(explicitPath string) (*AppConfig, error) {
	def := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("addr", def.Addr)
	v.SetDefault("key_prefix", def.KeyPrefix)
	v.SetDefault("allow_expired_in_game", def.AllowExpiredInGame)
	v.SetDefault("tick_interval", def.TickInterval)
	v.SetDefault("cleanup_grace", def.CleanupGrace)
	v.SetDefault("sweep_interval", def.SweepInterval)
	v.SetDefault("default_rating", def.DefaultRating)
	v.SetDefault("persist_queue", def.PersistQueue)
	v.SetDefault("ws_ping_interval", def.WSPingInterval)
	v.SetDefault("ws_send_buffer", def.WSSendBuffer)
	v.SetDefault("chat_max_len", def.ChatMaxLen)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)
	// keys without a default still need registering for AutomaticEnv + Unmarshal
	for _, k := range []string{"redis_url", "database_url", "jwt_secret", "jwt_issuer", "jwt_audience", "message_dir", "allowed_origins"} {
		v.SetDefault(k, "")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("redis_url", "ARENA_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("database_url", "ARENA_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("jwt_secret", "ARENA_JWT_SECRET", "JWT_SECRET")

	if path := resolvePath(explicitPath); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values and ranges.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.RedisURL) == "" {
		return errors.New("redis_url is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("jwt_secret is required")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.CleanupGrace < 0 {
		return fmt.Errorf("cleanup_grace must not be negative, got %s", c.CleanupGrace)
	}
	if c.DefaultRating <= 0 {
		return fmt.Errorf("default_rating must be positive, got %d", c.DefaultRating)
	}
	if c.PersistQueue <= 0 {
		c.PersistQueue = Default().PersistQueue
	}
	if c.WSSendBuffer <= 0 {
		c.WSSendBuffer = Default().WSSendBuffer
	}
	if c.ChatMaxLen <= 0 {
		c.ChatMaxLen = Default().ChatMaxLen
	}
	return nil
}

// WriteDefault writes a starter yaml config to path. Secrets are left blank.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolvePath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p
	}
	if _, err := os.Stat(defaultCfgName); err == nil {
		return defaultCfgName
	}
	return ""
}

// env values arrive as a single comma separated string
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
