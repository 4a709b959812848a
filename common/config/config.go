package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Signer    SignerConfig
	Storage   StorageConfig
	Notary    NotaryConfig
	Download  DownloadConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string

	// APIToken guards task submission; empty disables the check
	APIToken string
	// SubmitRateLimit is task submissions per minute per client; 0 disables it
	SubmitRateLimit int64
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection and stream settings
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	TaskStream    string
	ConsumerGroup string
	ResultsList   string

	// Concurrent tasks per sign node
	ConsumerWorkers int
}

// SignerConfig holds signing pipeline tunables
type SignerConfig struct {
	WorkingDir            string
	KeyRingPath           string
	Backend               string // "gpg" or "native"
	GPGBinary             string
	RPMSignBinary         string
	GPGHome               string
	FilesSignCertPath     string
	SignTimeout           time.Duration
	FetchWorkers          int
	DownloadAttempts      int
	DownloadRetryInterval time.Duration
	SignBatchSize         int
	AuditWorkers          int
	UploadWorkers         int
	ParallelUpload        bool
	ParallelUploadMaxSize int64
}

// StorageConfig holds S3 upload settings
type StorageConfig struct {
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	UsePathStyle bool

	// Static credentials; the default AWS chain is used when empty
	AccessKeyID     string
	SecretAccessKey string
}

// NotaryConfig holds artifact verification settings
type NotaryConfig struct {
	Enabled bool
	Backend string // "postgres" or "redis"
}

// DownloadConfig holds credentials for fetching build artifacts
type DownloadConfig struct {
	Username string
	Password string
	Token    string
	Timeout  time.Duration
	// AllowedHosts limits download sources; empty allows any host
	AllowedHosts []string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
}

// DefaultParallelUploadMaxSize is the largest file uploaded in the parallel pool
const DefaultParallelUploadMaxSize = 52428800

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),

			APIToken:        getEnv("API_TOKEN", ""),
			SubmitRateLimit: getEnvInt64("SUBMIT_RATE_LIMIT", 60),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "signer"),
			User:        getEnv("POSTGRES_USER", "signer"),
			Password:    getEnv("POSTGRES_PASSWORD", "signer"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			TaskStream:    getEnv("SIGN_TASK_STREAM", "sign.tasks"),
			ConsumerGroup: getEnv("SIGN_CONSUMER_GROUP", "sign_nodes"),
			ResultsList:   getEnv("SIGN_RESULTS_LIST", "sign_task_results"),

			ConsumerWorkers: getEnvInt("SIGN_CONSUMER_WORKERS", 1),
		},
		Signer: SignerConfig{
			WorkingDir:            getEnv("WORKING_DIR", "/srv/sign-node"),
			KeyRingPath:           getEnv("KEYRING_PATH", "/etc/sign-node/keyring.yaml"),
			Backend:               getEnv("SIGNER_BACKEND", "gpg"),
			GPGBinary:             getEnv("GPG_BINARY", "gpg"),
			RPMSignBinary:         getEnv("RPMSIGN_BINARY", "rpmsign"),
			GPGHome:               getEnv("GNUPGHOME", ""),
			FilesSignCertPath:     getEnv("FILES_SIGN_CERT_PATH", "/etc/pki/ima/ima-sign.key"),
			SignTimeout:           getEnvDuration("SIGN_TIMEOUT", 10*time.Minute),
			FetchWorkers:          getEnvInt("FETCH_WORKERS", 4),
			DownloadAttempts:      getEnvInt("DOWNLOAD_ATTEMPTS", 3),
			DownloadRetryInterval: getEnvDuration("DOWNLOAD_RETRY_INTERVAL", 1*time.Second),
			SignBatchSize:         getEnvInt("SIGN_BATCH_SIZE", 50),
			AuditWorkers:          getEnvInt("AUDIT_WORKERS", 10),
			UploadWorkers:         getEnvInt("UPLOAD_WORKERS", 4),
			ParallelUpload:        getEnvBool("PARALLEL_UPLOAD", true),
			ParallelUploadMaxSize: getEnvInt64("PARALLEL_UPLOAD_MAX_SIZE", DefaultParallelUploadMaxSize),
		},
		Storage: StorageConfig{
			Bucket:       getEnv("S3_BUCKET", "signed-packages"),
			Region:       getEnv("AWS_REGION", "us-east-1"),
			Endpoint:     getEnv("S3_ENDPOINT", ""),
			Prefix:       getEnv("S3_PREFIX", ""),
			UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),

			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		},
		Notary: NotaryConfig{
			Enabled: getEnvBool("NOTARY_ENABLED", false),
			Backend: getEnv("NOTARY_BACKEND", "postgres"),
		},
		Download: DownloadConfig{
			Username: getEnv("DOWNLOAD_USERNAME", ""),
			Password: getEnv("DOWNLOAD_PASSWORD", ""),
			Token:    getEnv("DOWNLOAD_TOKEN", ""),
			Timeout:  getEnvDuration("DOWNLOAD_TIMEOUT", 10*time.Minute),

			AllowedHosts: getEnvList("DOWNLOAD_ALLOWED_HOSTS"),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Signer.WorkingDir == "" {
		return fmt.Errorf("working dir is required")
	}

	switch c.Signer.Backend {
	case "gpg", "native":
	default:
		return fmt.Errorf("unknown signer backend: %s", c.Signer.Backend)
	}

	switch c.Notary.Backend {
	case "postgres", "redis":
	default:
		return fmt.Errorf("unknown notary backend: %s", c.Notary.Backend)
	}

	positive := map[string]int{
		"FETCH_WORKERS":         c.Signer.FetchWorkers,
		"DOWNLOAD_ATTEMPTS":     c.Signer.DownloadAttempts,
		"SIGN_BATCH_SIZE":       c.Signer.SignBatchSize,
		"AUDIT_WORKERS":         c.Signer.AuditWorkers,
		"UPLOAD_WORKERS":        c.Signer.UploadWorkers,
		"SIGN_CONSUMER_WORKERS": c.Redis.ConsumerWorkers,
	}
	for name, value := range positive {
		if value < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", name, value)
		}
	}

	if c.Service.SubmitRateLimit < 0 {
		return fmt.Errorf("submit rate limit must not be negative")
	}

	if c.Signer.ParallelUploadMaxSize < 0 {
		return fmt.Errorf("parallel upload max size must not be negative")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port of the Redis server
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
