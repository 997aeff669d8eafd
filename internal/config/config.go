package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	OTP           OTPConfig
	RateLimit     RateLimitConfig
	Bucketing     BucketingConfig
	Sweeper       SweeperConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	DispatchTopic string
	EventsTopic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	Enabled    bool
	URL        string
	Username   string
	Password   string
	EventIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// OTPConfig carries the issuance and lockout policy.
type OTPConfig struct {
	CodeLength    int
	SaltBytes     int
	Expiry        time.Duration
	MaxAttempts   int
	BlockDuration time.Duration
}

// RateLimitConfig caps how many codes may be requested per identity and per
// source address inside one fixed window.
type RateLimitConfig struct {
	Window      time.Duration
	MaxPerEmail int
	MaxPerIP    int
}

type BucketingConfig struct {
	EventBuckets int
}

type SweeperConfig struct {
	Enabled   bool
	Interval  time.Duration
	Retention time.Duration
}

var (
	loaded   *Config
	loadOnce sync.Once
)

// LoadConfig reads configuration from the environment, loading a local .env
// file first when present.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()

		loaded = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getInt("SERVER_PORT", 8080),
				ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
				WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
				EnableTLS:    getBool("SERVER_ENABLE_TLS", false),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Scylla: ScyllaConfig{
				Nodes:    getList("SCYLLA_NODES", []string{"127.0.0.1:9042"}),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "account_security"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://127.0.0.1:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getInt("REDIS_DB", 0),
				PoolSize: getInt("REDIS_POOL_SIZE", 50),
			},
			Kafka: KafkaConfig{
				Enabled:       getBool("KAFKA_ENABLED", true),
				Brokers:       getList("KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
				DispatchTopic: getEnv("KAFKA_DISPATCH_TOPIC", "otp.dispatch"),
				EventsTopic:   getEnv("KAFKA_EVENTS_TOPIC", "security.events"),
			},
			Clickhouse: ClickhouseConfig{
				Enabled:  getBool("CLICKHOUSE_ENABLED", true),
				URL:      getEnv("CLICKHOUSE_URL", "127.0.0.1:9000"),
				Database: getEnv("CLICKHOUSE_DATABASE", "security"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Elasticsearch: ElasticsearchConfig{
				Enabled:    getBool("ELASTICSEARCH_ENABLED", true),
				URL:        getEnv("ELASTICSEARCH_URL", "http://127.0.0.1:9200"),
				Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
				Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
				EventIndex: getEnv("ELASTICSEARCH_EVENT_INDEX", "security-events"),
			},
			KMS: KMSConfig{
				Enabled: getBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("KMS_REGION", "us-east-1"),
			},
			OTP: OTPConfig{
				CodeLength:    getInt("OTP_CODE_LENGTH", 6),
				SaltBytes:     getInt("OTP_SALT_BYTES", 32),
				Expiry:        getDuration("OTP_EXPIRY", 10*time.Minute),
				MaxAttempts:   getInt("OTP_MAX_ATTEMPTS", 5),
				BlockDuration: getDuration("OTP_BLOCK_DURATION", 30*time.Minute),
			},
			RateLimit: RateLimitConfig{
				Window:      getDuration("RATE_LIMIT_WINDOW", time.Hour),
				MaxPerEmail: getInt("RATE_LIMIT_MAX_PER_EMAIL", 5),
				MaxPerIP:    getInt("RATE_LIMIT_MAX_PER_IP", 20),
			},
			Bucketing: BucketingConfig{
				EventBuckets: getInt("EVENT_BUCKETS", 16),
			},
			Sweeper: SweeperConfig{
				Enabled:   getBool("SWEEPER_ENABLED", true),
				Interval:  getDuration("SWEEPER_INTERVAL", 15*time.Minute),
				Retention: getDuration("SWEEPER_RETENTION", time.Hour),
			},
		}
	})

	return loaded
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	return LoadConfig()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
