package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// Config holds all application configuration
type Config struct {
	Port               string
	PublicURL          string
	AdminKey           string
	SignerKey          string
	SignerKeyFile      string
	SignaturesRequired bool
	StoreDriver        string
	Database           DatabaseConfig
	Registry           RegistryConfig
	Scheduler          SchedulerConfig
	HTTPTimeout        time.Duration
	Workers            int
	WorkerQueue        int
	Log                LogConfig
	Hub                HubConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// RegistryConfig selects where the party registry is read from
type RegistryConfig struct {
	File    string
	URL     string
	Refresh time.Duration
	MissTTL time.Duration
}

// SchedulerConfig holds the background task intervals. Zero disables a task.
type SchedulerConfig struct {
	Liveness  time.Duration
	Discovery time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// HubConfig is how the node presents itself to platforms in credentials.
type HubConfig struct {
	Role     ocpi.Role
	Name     string
	TokenTTL time.Duration
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	publicURL := strings.TrimRight(os.Getenv("PUBLIC_URL"), "/")
	if publicURL == "" {
		return nil, fmt.Errorf("PUBLIC_URL is required")
	}
	adminKey := os.Getenv("ADMIN_KEY")
	if adminKey == "" {
		return nil, fmt.Errorf("ADMIN_KEY is required")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		PublicURL:     publicURL,
		AdminKey:      adminKey,
		SignerKey:     os.Getenv("SIGNER_KEY"),
		SignerKeyFile: os.Getenv("SIGNER_KEY_FILE"),
		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "ocn"),
			Alter:    getEnv("DB_ALTER", "false") == "true",
		},
		Registry: RegistryConfig{
			File: os.Getenv("REGISTRY_FILE"),
			URL:  os.Getenv("REGISTRY_URL"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Hub: HubConfig{
			Role: ocpi.NewRole(getEnv("HUB_COUNTRY_CODE", "CH"), getEnv("HUB_PARTY_ID", "OCN")),
			Name: getEnv("HUB_NAME", "Open Charging Network Node"),
		},
	}

	var err error
	if cfg.SignaturesRequired, err = getBool("SIGNATURES_REQUIRED", false); err != nil {
		return nil, err
	}
	if cfg.Registry.Refresh, err = getDuration("REGISTRY_REFRESH", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Registry.MissTTL, err = getDuration("REGISTRY_MISS_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Scheduler.Liveness, err = getDuration("LIVENESS_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Scheduler.Discovery, err = getDuration("DISCOVERY_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Hub.TokenTTL, err = getDuration("TOKEN_A_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Workers, err = getInt("WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.WorkerQueue, err = getInt("WORKER_QUEUE", 256); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks combinations Load cannot check field by field.
func (c *Config) Validate() error {
	if c.StoreDriver != StoreMemory && c.StoreDriver != StorePostgres {
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreDriver)
	}
	if c.Registry.File != "" && c.Registry.URL != "" {
		return fmt.Errorf("set only one of REGISTRY_FILE and REGISTRY_URL")
	}
	if c.Registry.File == "" && c.Registry.URL == "" {
		return fmt.Errorf("REGISTRY_FILE or REGISTRY_URL is required")
	}
	if err := c.Hub.Role.Validate(); err != nil {
		return fmt.Errorf("hub role: %w", err)
	}
	if c.Workers <= 0 || c.WorkerQueue <= 0 {
		return fmt.Errorf("WORKERS and WORKER_QUEUE must be positive")
	}
	return nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// getDuration accepts Go durations ("90s") or plain seconds.
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
