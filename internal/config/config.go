package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-yaml/yaml"
	"github.com/pkg/errors"

	"github.com/totegamma/aswan/internal/domain"
)

const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendMemcached = "memcached"
)

type Config struct {
	Server         Server         `yaml:"server"`
	Gateway        Gateway        `yaml:"gateway"`
	DecisionEngine DecisionEngine `yaml:"decisionEngine"`
}

type Server struct {
	FQDN               string `yaml:"fqdn"`
	ListenAddr         string `yaml:"listenAddr"`
	PostgresDsn        string `yaml:"postgresDsn"`
	RedisAddr          string `yaml:"redisAddr"`
	RedisDB            int    `yaml:"redisDB"`
	MemcachedAddr      string `yaml:"memcachedAddr"`
	IdempotencyBackend string `yaml:"idempotencyBackend"` // memory, redis, memcached
	IdempotencyTTL     string `yaml:"idempotencyTTL"`
	EnableTrace        bool   `yaml:"enableTrace"`
	TraceEndpoint      string `yaml:"traceEndpoint"`
	SessionSecret      string `yaml:"sessionSecret"`
}

type Gateway struct {
	FreshnessWindow string  `yaml:"freshnessWindow"`
	DecisionTimeout string  `yaml:"decisionTimeout"`
	MaxNameLength   int     `yaml:"maxNameLength"`
	RateLimit       float64 `yaml:"rateLimit"` // requests per second per key, 0 disables
	RateBurst       int     `yaml:"rateBurst"`
}

type DecisionEngine struct {
	Endpoint         string `yaml:"endpoint"`
	Timeout          string `yaml:"timeout"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	OpenTimeout      string `yaml:"openTimeout"`
}

func Default() Config {
	return Config{
		Server: Server{
			ListenAddr:         ":8000",
			IdempotencyBackend: BackendMemory,
		},
		Gateway: Gateway{
			FreshnessWindow: "5m",
			DecisionTimeout: "15s",
			MaxNameLength:   64,
			RateBurst:       20,
		},
		DecisionEngine: DecisionEngine{
			Timeout:          "10s",
			FailureThreshold: 5,
			OpenTimeout:      "30s",
		},
	}
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	config := Default()
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c Config) Validate() error {
	switch c.Server.IdempotencyBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Server.RedisAddr == "" {
			return fmt.Errorf("idempotencyBackend redis requires server.redisAddr")
		}
	case BackendMemcached:
		if c.Server.MemcachedAddr == "" {
			return fmt.Errorf("idempotencyBackend memcached requires server.memcachedAddr")
		}
	default:
		return fmt.Errorf("unknown idempotencyBackend %q", c.Server.IdempotencyBackend)
	}

	if c.DecisionEngine.Endpoint == "" {
		return fmt.Errorf("decisionEngine.endpoint is required")
	}

	durations := map[string]string{
		"server.idempotencyTTL":      c.Server.IdempotencyTTL,
		"gateway.freshnessWindow":    c.Gateway.FreshnessWindow,
		"gateway.decisionTimeout":    c.Gateway.DecisionTimeout,
		"decisionEngine.timeout":     c.DecisionEngine.Timeout,
		"decisionEngine.openTimeout": c.DecisionEngine.OpenTimeout,
	}
	for name, value := range durations {
		if _, err := parseDuration(value); err != nil {
			return errors.Wrap(err, name)
		}
	}
	return nil
}

// ToDomain extracts the settings the usecases depend on.
func (c Config) ToDomain() domain.Config {
	return domain.Config{
		FQDN:            c.Server.FQDN,
		FreshnessWindow: mustDuration(c.Gateway.FreshnessWindow),
		DecisionTimeout: mustDuration(c.Gateway.DecisionTimeout),
		MaxNameLength:   c.Gateway.MaxNameLength,
		RateLimit:       c.Gateway.RateLimit,
		RateBurst:       c.Gateway.RateBurst,
	}
}

func (c Config) IdempotencyTTL() time.Duration {
	return mustDuration(c.Server.IdempotencyTTL)
}

func (c DecisionEngine) TimeoutDuration() time.Duration {
	return mustDuration(c.Timeout)
}

func (c DecisionEngine) OpenTimeoutDuration() time.Duration {
	return mustDuration(c.OpenTimeout)
}

// parseDuration treats an empty string as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// mustDuration is only used after Validate has accepted the value.
func mustDuration(s string) time.Duration {
	d, err := parseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
