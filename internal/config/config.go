package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the server
type Config struct {
	Port       string `validate:"required,numeric"`
	Env        string
	LogLevel   string `validate:"omitempty,oneof=debug info warn error"`
	DataDir    string `validate:"required"`
	AppsDir    string `validate:"required"`
	DBPath     string `validate:"required"`
	AppsFile   string `validate:"required"`
	PortsFile  string `validate:"required"`
	DockerHost string
	DockerBin  string `validate:"required"`
	GitBin     string `validate:"required"`
	AppKey     string
	// PortRangeEnd is inclusive
	PortRangeStart int `validate:"min=1,max=65535"`
	PortRangeEnd   int `validate:"min=1,max=65535,gtefield=PortRangeStart"`

	CloneTimeout           time.Duration `validate:"gt=0"`
	LogHeartbeat           time.Duration `validate:"gt=0"`
	ShutdownTimeout        time.Duration `validate:"gt=0"`
	DeploymentHistoryLimit int           `validate:"min=0"`

	KeyringBackend  string `validate:"oneof=file auto"`
	KeyringDir      string
	KeyringPassword string
}

// IsProduction reports whether ENV=production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads an optional .env file and the process environment
func Load() (*Config, error) {
	// Missing .env is normal outside development
	_ = godotenv.Load()

	dataDir := GetString("DATA_DIR", "./data")
	cfg := &Config{
		Port:                   GetString("PORT", "8080"),
		Env:                    GetString("ENV", "development"),
		LogLevel:               GetString("LOG_LEVEL", ""),
		DataDir:                dataDir,
		AppsDir:                GetString("APPS_DIR", filepath.Join(dataDir, "apps")),
		DBPath:                 GetString("DB_PATH", filepath.Join(dataDir, "launchpad.db")),
		AppsFile:               GetString("APPS_FILE", filepath.Join(dataDir, "applications.json")),
		PortsFile:              GetString("PORTS_FILE", filepath.Join(dataDir, "ports.json")),
		DockerHost:             GetString("DOCKER_HOST", ""),
		DockerBin:              GetString("DOCKER_BIN", "docker"),
		GitBin:                 GetString("GIT_BIN", "git"),
		AppKey:                 GetString("APP_KEY", ""),
		PortRangeStart:         GetInt("PORT_RANGE_START", 10000),
		PortRangeEnd:           GetInt("PORT_RANGE_END", 20000),
		CloneTimeout:           GetDuration("CLONE_TIMEOUT", 5*time.Minute),
		LogHeartbeat:           GetDuration("LOG_HEARTBEAT", 15*time.Second),
		ShutdownTimeout:        GetDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		DeploymentHistoryLimit: GetInt("DEPLOYMENT_HISTORY_LIMIT", 0),
		KeyringBackend:         GetString("KEYRING_BACKEND", "file"),
		KeyringDir:             GetString("KEYRING_DIR", filepath.Join(dataDir, "keyring")),
		KeyringPassword:        GetString("KEYRING_PASSWORD", ""),
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config against its struct tags
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// GetString retrieves an environment variable or returns a fallback when unset
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetDuration retrieves an environment variable as time.Duration ("90s", "5m") or returns fallback
func GetDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fallback
		}
		return parsed
	}
	return fallback
}
