package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	TenantDatabase TenantDatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	AWS            AWSConfig
	Provisioning   ProvisioningConfig
	Email          EmailConfig
	Usage          UsageConfig
	Bootstrap      BootstrapConfig
}

// BootstrapConfig optionally seeds the first platform admin at startup.
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// EmailConfig for SMTP delivery of tenant notifications.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds the central PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/backoffice?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// TenantDatabaseConfig controls where tenant databases are created.
type TenantDatabaseConfig struct {
	// AdminURL must connect as a role allowed to CREATE DATABASE. Empty = central DSN.
	AdminURL string
	Prefix   string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the tenant logo bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	LogosBucket     string
}

// ProvisioningConfig holds tenant provisioning defaults.
type ProvisioningConfig struct {
	BaseDomain         string // subdomain hosts are <subdomain>.<BaseDomain>
	ProgressTTLMinutes int
	DefaultTrialDays   int
	DefaultTimezone    string
	DefaultCurrency    string
	LoginURLTemplate   string // %s is replaced by the tenant host
}

// UsageConfig holds the usage-alert scanner settings.
type UsageConfig struct {
	ScanIntervalMinutes int
	Thresholds          []int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// ProgressTTL returns how long provisioning progress records live in the cache.
func (c ProvisioningConfig) ProgressTTL() time.Duration {
	if c.ProgressTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ProgressTTLMinutes) * time.Minute
}

// ScanInterval returns the usage scan period.
func (c UsageConfig) ScanInterval() time.Duration {
	if c.ScanIntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.ScanIntervalMinutes) * time.Minute
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	// provisioning runs inside the request; keep the write timeout generous
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "300"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "12"))

	thresholds, err := parseThresholds(getEnv("USAGE_ALERT_THRESHOLDS", "80,90,100"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "backoffice"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		TenantDatabase: TenantDatabaseConfig{
			AdminURL: getEnv("TENANT_DB_ADMIN_URL", ""),
			Prefix:   getEnv("TENANT_DB_PREFIX", "tenant_"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			LogosBucket:     getEnv("AWS_S3_LOGOS_BUCKET", "brokerdesk-tenant-logos"),
		},
		Provisioning: ProvisioningConfig{
			BaseDomain:         getEnv("TENANT_BASE_DOMAIN", "brokerdesk.app"),
			ProgressTTLMinutes: getEnvInt("PROGRESS_TTL_MINUTES", 30),
			DefaultTrialDays:   getEnvInt("DEFAULT_TRIAL_DAYS", 14),
			DefaultTimezone:    getEnv("DEFAULT_TIMEZONE", "UTC"),
			DefaultCurrency:    getEnv("DEFAULT_CURRENCY", "USD"),
			LoginURLTemplate:   getEnv("LOGIN_URL_TEMPLATE", "https://%s/login"),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@brokerdesk.app"),
			FromName:    getEnv("EMAIL_FROM_NAME", "Brokerdesk"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
		Usage: UsageConfig{
			ScanIntervalMinutes: getEnvInt("USAGE_SCAN_INTERVAL_MINUTES", 60),
			Thresholds:          thresholds,
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
			AdminName:     getEnv("BOOTSTRAP_ADMIN_NAME", "Platform Admin"),
		},
	}
	return cfg, nil
}

func parseThresholds(s string) ([]int, error) {
	var out []int
	for _, v := range splitTrim(s, ",") {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid usage alert threshold %q", v)
		}
		out = append(out, n)
	}
	return out, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
