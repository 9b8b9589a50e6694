package core

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/go-playground/validator"
	"github.com/jo-hoe/goimagehost/internal/lock"
	"github.com/labstack/gommon/bytes"
	"gopkg.in/yaml.v3"
)

const (
	ListOrderNone    = "none"
	ListOrderName    = "name"
	ListOrderModTime = "modtime"
)

type RedisLockConfig struct {
	Address   string        `yaml:"address" env:"ADDRESS"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB" validate:"min=0"`
	KeyPrefix string        `yaml:"keyPrefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL" validate:"min=0"`
}

type LockConfig struct {
	Type  string          `yaml:"type" env:"TYPE" validate:"oneof=none memory redis"`
	Redis RedisLockConfig `yaml:"redis" envPrefix:"REDIS_"`
}

type ServiceConfig struct {
	Port       int    `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	BaseURL    string `yaml:"baseUrl" env:"BASE_URL" validate:"required,url"`
	StorageDir string `yaml:"storageDir" env:"STORAGE_DIR" validate:"required"`
	URLPrefix  string `yaml:"urlPrefix" env:"URL_PREFIX"`
	ListOrder  string `yaml:"listOrder" env:"LIST_ORDER" validate:"oneof=none name modtime"`

	// MaxUploadSize limits request bodies, e.g. "10M". Empty means unlimited.
	MaxUploadSize    string     `yaml:"maxUploadSize" env:"MAX_UPLOAD_SIZE"`
	CORSAllowOrigins []string   `yaml:"corsAllowOrigins" env:"CORS_ALLOW_ORIGINS" envSeparator:","`
	LogLevel         string     `yaml:"logLevel" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	LogFormat        string     `yaml:"logFormat" env:"LOG_FORMAT" validate:"oneof=text json"`
	Lock             LockConfig `yaml:"lock" envPrefix:"LOCK_"`
}

// DefaultConfig returns the configuration used when no file is present.
// BaseURL is derived from Port during loading when left empty.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:             3000,
		StorageDir:       "uploads",
		URLPrefix:        "/uploads",
		ListOrder:        ListOrderName,
		CORSAllowOrigins: []string{"*"},
		LogLevel:         "info",
		LogFormat:        "text",
		Lock: LockConfig{
			Type: "memory",
			Redis: RedisLockConfig{
				Address:   "localhost:6379",
				KeyPrefix: "goimagehost:lock:",
				TTL:       10 * time.Second,
			},
		},
	}
}

// LoadConfig loads configuration from the specified YAML file on top of the defaults,
// then applies environment overrides.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := finalizeConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}
	return config, nil
}

// LoadConfigFromEnv builds the configuration from defaults and environment variables only.
func LoadConfigFromEnv() (*ServiceConfig, error) {
	config := DefaultConfig()
	if err := finalizeConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func finalizeConfig(config *ServiceConfig) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	if config.BaseURL == "" {
		config.BaseURL = fmt.Sprintf("http://localhost:%d", config.Port)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	config.URLPrefix = normalizeURLPrefix(config.URLPrefix)

	return validateConfig(config)
}

// LockerConfig converts the lock section for lock.NewLocker.
func (c LockConfig) LockerConfig() lock.Config {
	return lock.Config{
		Type: c.Type,
		Redis: lock.RedisConfig{
			Address:   c.Redis.Address,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix,
			TTL:       c.Redis.TTL,
		},
	}
}

func normalizeURLPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}

func validateConfig(config *ServiceConfig) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	if config.Lock.Type == lock.TypeRedis && config.Lock.Redis.Address == "" {
		return errors.New("lock.redis.address is required when lock.type is redis")
	}

	if config.MaxUploadSize != "" {
		if _, err := bytes.Parse(config.MaxUploadSize); err != nil {
			return fmt.Errorf("maxUploadSize %q: %w", config.MaxUploadSize, err)
		}
	}

	return nil
}
