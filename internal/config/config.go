package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
	HistoryBadger = "badger"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`

	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`

	NegotiationTimeout    time.Duration `mapstructure:"negotiation_timeout"`
	NegotiationRetryDelay time.Duration `mapstructure:"negotiation_retry_delay"`

	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	ChatRateInterval time.Duration `mapstructure:"chat_rate_interval"`

	HistoryBackend string `mapstructure:"history_backend"`
	HistoryLimit   int    `mapstructure:"history_limit"`
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	BadgerPath     string `mapstructure:"badger_path"`

	DatabaseDSN    string `mapstructure:"database_dsn"`
	OpenEnrollment bool   `mapstructure:"open_enrollment"`

	ReconnectAttempts  int           `mapstructure:"reconnect_attempts"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay"`
	ICEServers         []string      `mapstructure:"ice_servers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 8<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("jwt_issuer", "classroom")
	v.SetDefault("negotiation_timeout", "15s")
	v.SetDefault("negotiation_retry_delay", "500ms")
	v.SetDefault("chat_rate_limit", 10)
	v.SetDefault("chat_rate_interval", "10s")
	v.SetDefault("history_backend", HistoryMemory)
	v.SetDefault("history_limit", 500)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("badger_path", "./data/chat")
	v.SetDefault("open_enrollment", false)
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_base_delay", "1s")
	v.SetDefault("reconnect_max_delay", "5s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml, then CLASSROOM_* variables.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("history", cfg.HistoryBackend).Msg("config ready")
	return cfg, nil
}

// LoadPeer reads the same sources for a participant process, which holds
// no server secrets.
func LoadPeer() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectAttempts < 1 {
		return nil, errors.New("reconnect_attempts must be positive")
	}
	return cfg, nil
}

func read() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	v.SetEnvPrefix("CLASSROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if c.Secret == "" {
		return errors.New("secret is required for the cookie store")
	}
	switch c.HistoryBackend {
	case HistoryMemory, HistoryRedis, HistoryBadger:
	default:
		return fmt.Errorf("unknown history_backend %q", c.HistoryBackend)
	}
	if c.ReconnectAttempts < 1 {
		return errors.New("reconnect_attempts must be positive")
	}
	return nil
}
