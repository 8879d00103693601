package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort string
	ServiceName string
	LogLevel    string
	LogFormat   string
	CORSOrigins []string
	// TrustedProxies are the CIDRs or IPs whose X-Forwarded-For is believed
	TrustedProxies []string

	// Database configuration
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// MinIO configuration
	MinIOEndpoint     string
	MinIOAccessKey    string
	MinIOSecretKey    string
	MinIOBucketName   string
	MinIOUseSSL       bool
	MinIOPublicURL    string
	MinIOPublicBucket bool

	// Redis configuration
	CacheEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// Jaeger configuration
	TracingEnabled bool
	JaegerEndpoint string

	// Naming configuration
	AnthropicAPIKey string
	NamingModel     string
	NamingTimeout   time.Duration

	// Behaviour
	FolderDeletePolicy string
	FolderVerifyParent bool
	MaskAccessErrors   bool
	BcryptCost         int
	MaxUploadMB        int
	AccessRateLimit    int
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. A .env file in the working directory is read first if present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		// Service defaults
		ServicePort: getEnv("SERVICE_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "cloudspace-service"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"*"}),

		TrustedProxies: getEnvAsList("TRUSTED_PROXIES", nil),

		// Database defaults
		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "4000"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "cloudspace"),
		SQLitePath: getEnv("SQLITE_PATH", "cloudspace.db"),

		// MinIO defaults
		MinIOEndpoint:     getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:    getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:    getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName:   getEnv("MINIO_BUCKET_NAME", "workspace-files"),
		MinIOUseSSL:       getEnvAsBool("MINIO_USE_SSL", false),
		MinIOPublicURL:    getEnv("MINIO_PUBLIC_URL", ""),
		MinIOPublicBucket: getEnvAsBool("MINIO_PUBLIC_BUCKET", true),

		// Redis defaults
		CacheEnabled:  getEnvAsBool("CACHE_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		CacheTTL:      getEnvAsDuration("CACHE_TTL", 5*time.Minute),

		// Jaeger defaults
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", true),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "localhost:4318"),

		// Naming defaults
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		NamingModel:     getEnv("NAMING_MODEL", "claude-3-5-haiku-latest"),
		NamingTimeout:   getEnvAsDuration("NAMING_TIMEOUT", 10*time.Second),

		// Behaviour defaults
		FolderDeletePolicy: getEnv("FOLDER_DELETE_POLICY", "orphan"),
		FolderVerifyParent: getEnvAsBool("FOLDER_VERIFY_PARENT", false),
		MaskAccessErrors:   getEnvAsBool("MASK_ACCESS_ERRORS", false),
		BcryptCost:         getEnvAsInt("BCRYPT_COST", 10),
		MaxUploadMB:        getEnvAsInt("MAX_UPLOAD_MB", 25),
		AccessRateLimit:    getEnvAsInt("ACCESS_RATE_LIMIT", 20),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks enumerations and ranges
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ServicePort, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
		validation.Field(&c.DBDriver, validation.Required, validation.In("mysql", "sqlite")),
		validation.Field(&c.SQLitePath, validation.When(c.DBDriver == "sqlite", validation.Required)),
		validation.Field(&c.MinIOEndpoint, validation.Required),
		validation.Field(&c.MinIOBucketName, validation.Required, validation.Length(3, 63)),
		validation.Field(&c.CacheTTL, validation.Min(time.Second)),
		validation.Field(&c.NamingTimeout, validation.Min(100*time.Millisecond)),
		validation.Field(&c.FolderDeletePolicy, validation.In("orphan", "cascade", "reject")),
		// bcrypt.MinCost and bcrypt.MaxCost
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
		validation.Field(&c.MaxUploadMB, validation.Min(1)),
		validation.Field(&c.AccessRateLimit, validation.Min(0)),
	)
}

// GetDSN returns the database connection string for the configured driver
func (c *Config) GetDSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetMaxUploadBytes returns the upload limit in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
