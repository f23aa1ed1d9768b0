package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Limiter LimiterConfig `mapstructure:"limiter"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Backend BackendConfig `mapstructure:"backend"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

type LimiterConfig struct {
	Key      string  `mapstructure:"key"`
	Capacity float64 `mapstructure:"capacity"`
	FillRate float64 `mapstructure:"fill_rate"`
}

// QueueConfig bounds the deferral queue when MaxLength > 0; zero keeps the
// queue unbounded.
type QueueConfig struct {
	Name      string `mapstructure:"name"`
	MaxLength int64  `mapstructure:"max_length"`
}

type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type WorkerConfig struct {
	Count       int           `mapstructure:"count"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	RetryPause  time.Duration `mapstructure:"retry_pause"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// BackendConfig selects the protected backend. Mode "http" forwards to URL,
// mode "mock" wires the in-process flaky double (load drills, demos).
type BackendConfig struct {
	Mode        string        `mapstructure:"mode"`
	URL         string        `mapstructure:"url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	FailureRate float64       `mapstructure:"failure_rate"`
	Latency     time.Duration `mapstructure:"latency"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var globalConfig Config

func Load(configPath string) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// no config file, environment variables only
	}

	globalConfig = Config{}
	if err := v.Unmarshal(&globalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaultValues()

	return validate(&globalConfig)
}

func setDefaultValues() {
	if globalConfig.Server.Port == 0 {
		globalConfig.Server.Port = 8080
	}
	if globalConfig.Server.MetricsPort == 0 {
		globalConfig.Server.MetricsPort = 9090
	}
	if globalConfig.Redis.Host == "" {
		globalConfig.Redis.Host = "localhost"
	}
	if globalConfig.Redis.Port == 0 {
		globalConfig.Redis.Port = 6379
	}
	if globalConfig.Limiter.Key == "" {
		globalConfig.Limiter.Key = "sluice:bucket"
	}
	if globalConfig.Limiter.Capacity == 0 {
		globalConfig.Limiter.Capacity = 10
	}
	if globalConfig.Limiter.FillRate == 0 {
		globalConfig.Limiter.FillRate = 1
	}
	if globalConfig.Queue.Name == "" {
		globalConfig.Queue.Name = "sluice:deferred"
	}
	if globalConfig.Breaker.FailureThreshold == 0 {
		globalConfig.Breaker.FailureThreshold = 3
	}
	if globalConfig.Breaker.SuccessThreshold == 0 {
		globalConfig.Breaker.SuccessThreshold = 2
	}
	if globalConfig.Breaker.ResetTimeout == 0 {
		globalConfig.Breaker.ResetTimeout = 10 * time.Second
	}
	if globalConfig.Worker.Count == 0 {
		globalConfig.Worker.Count = 1
	}
	if globalConfig.Worker.PollTimeout == 0 {
		globalConfig.Worker.PollTimeout = 5 * time.Second
	}
	if globalConfig.Worker.RetryPause == 0 {
		globalConfig.Worker.RetryPause = time.Second
	}
	if globalConfig.Worker.MaxAttempts == 0 {
		globalConfig.Worker.MaxAttempts = 50
	}
	if globalConfig.Backend.Mode == "" {
		globalConfig.Backend.Mode = "http"
	}
	if globalConfig.Backend.Timeout == 0 {
		globalConfig.Backend.Timeout = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Limiter.Capacity < 1 {
		return fmt.Errorf("limiter capacity must be at least 1, got %v", cfg.Limiter.Capacity)
	}
	if cfg.Limiter.FillRate < 0 {
		return fmt.Errorf("limiter fill_rate must not be negative, got %v", cfg.Limiter.FillRate)
	}
	if cfg.Backend.Mode != "http" && cfg.Backend.Mode != "mock" {
		return fmt.Errorf("backend mode must be 'http' or 'mock', got %q", cfg.Backend.Mode)
	}
	if cfg.Backend.Mode == "http" && cfg.Backend.URL == "" {
		return errors.New("backend url is required in http mode")
	}
	return nil
}

func GetConfig() *Config {
	return &globalConfig
}
