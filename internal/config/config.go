package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// MgmtAPIConfig holds credentials and endpoints for the external
// backend-hosting provider's management API.
type MgmtAPIConfig struct {
	BaseURL string
	Token   string
	OrgID   string
	Region  string
}

// Config is the process configuration, read once at startup.
type Config struct {
	Environment string

	ControlPlaneDB string
	RedisAddr      string // empty disables the org read cache

	MgmtAPI          MgmtAPIConfig
	TenantDBPassword string
	EncryptionKey    []byte // 32-byte AES-256-GCM key

	PlatformPrefix string
	PollInterval   time.Duration
	PollBudget     time.Duration

	TenantMigrationsDir string
	TenantSeedsDir      string
}

// Load reads configuration from environment variables. Every required
// value is validated here, before any side effect; missing names are
// collected into a single error.
func Load() (*Config, error) {
	var missing []string

	required := func(name string) string {
		v := os.Getenv(name)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	controlPlaneDB := required("CONTROL_PLANE_DATABASE_URL")
	mgmtToken := required("MGMT_API_TOKEN")
	mgmtOrgID := required("MGMT_ORG_ID")
	tenantDBPassword := required("TENANT_DB_PASSWORD")
	encryptionKeyB64 := required("ENCRYPTION_KEY")

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}
	if env != "development" && env != "staging" && env != "production" {
		return nil, fmt.Errorf("invalid ENV value %q: must be development, staging, or production", env)
	}

	if err := validateDatabaseURL(controlPlaneDB); err != nil {
		return nil, fmt.Errorf("invalid CONTROL_PLANE_DATABASE_URL: %w", err)
	}

	encryptionKey, err := decodeEncryptionKey(encryptionKeyB64)
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
	}

	pollInterval, err := getEnvDuration("PROVISION_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	pollBudget, err := getEnvDuration("PROVISION_POLL_BUDGET", 120*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		Environment:    env,
		ControlPlaneDB: controlPlaneDB,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		MgmtAPI: MgmtAPIConfig{
			BaseURL: getEnv("MGMT_API_URL", "https://api.patronbackend.io/v1"),
			Token:   mgmtToken,
			OrgID:   mgmtOrgID,
			Region:  getEnv("MGMT_REGION", "us-east-1"),
		},
		TenantDBPassword:    tenantDBPassword,
		EncryptionKey:       encryptionKey,
		PlatformPrefix:      getEnv("PLATFORM_PREFIX", "patronworks"),
		PollInterval:        pollInterval,
		PollBudget:          pollBudget,
		TenantMigrationsDir: getEnv("TENANT_MIGRATIONS_DIR", "tenant/migrations"),
		TenantSeedsDir:      getEnv("TENANT_SEEDS_DIR", "tenant/seeds"),
	}, nil
}

// IsDevelopment reports whether the process runs in the development
// environment. The hard-delete command is gated on this.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// decodeEncryptionKey decodes and validates a base64-encoded 32-byte key.
func decodeEncryptionKey(b64Key string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64Key))
	if err != nil {
		return nil, fmt.Errorf("must be valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must be exactly 32 bytes (256 bits), got %d bytes", len(key))
	}
	return key, nil
}

// validateDatabaseURL ensures the URL is a usable PostgreSQL connection string.
func validateDatabaseURL(dbURL string) error {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("URL must use postgres or postgresql scheme, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return d, nil
}
