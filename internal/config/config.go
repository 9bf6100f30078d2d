package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
	SinkRedis    = "redis"
	SinkKafka    = "kafka"
)

var (
	ErrUnknownSink    = errors.New("unknown sink")
	ErrInvalidSetting = errors.New("invalid setting")
)

type Config struct {
	Environment     string
	LogLevel        string
	HTTPPort        string
	GRPCHealthPort  string
	ShutdownTimeout time.Duration
	Ingest          IngestConfig
	Postgres        PostgresConfig
	SQLite          SQLiteConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
}

type IngestConfig struct {
	Sink               string
	MaxBodyBytes       int64
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	RefdataDir         string
}

type PostgresConfig struct {
	Host            string
	Port            string
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SSLMode         string
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	HitTTL   time.Duration
}

type KafkaConfig struct {
	Brokers          []string
	Topic            string
	ConsumerGroup    string
	ProducerRetries  int
	ProducerTimeout  time.Duration
	RequiredAcks     int
	CompressionType  string
	MaxMessageBytes  int
	IdempotentWrites bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		GRPCHealthPort:  getEnv("GRPC_HEALTH_PORT", "50051"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	cfg.Ingest = IngestConfig{
		Sink:               strings.ToLower(getEnv("SINK", SinkPostgres)),
		MaxBodyBytes:       int64(getEnvAsInt("MAX_BODY_BYTES", 64<<10)),
		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 100),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 200),
		RefdataDir:         getEnv("REFDATA_DIR", ""),
	}

	cfg.Postgres = PostgresConfig{
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            getEnv("POSTGRES_PORT", "5432"),
		Database:        getEnv("POSTGRES_DB", "analytics"),
		Username:        getEnv("POSTGRES_USER", "admin"),
		Password:        getEnv("POSTGRES_PASSWORD", "password"),
		MaxOpenConns:    getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		SSLMode:         getEnv("POSTGRES_SSL_MODE", "disable"),
		ConnectAttempts: getEnvAsInt("POSTGRES_CONNECT_ATTEMPTS", 5),
		ConnectBackoff:  getEnvAsDuration("POSTGRES_CONNECT_BACKOFF", time.Second),
	}

	cfg.SQLite = SQLiteConfig{
		Path: getEnv("SQLITE_PATH", "litetics.db"),
	}

	cfg.Redis = RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
		// окно, в котором unload может найти свой load
		HitTTL: getEnvAsDuration("REDIS_HIT_TTL", 30*time.Minute),
	}

	cfg.Kafka = KafkaConfig{
		Brokers:          getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		Topic:            getEnv("KAFKA_TOPIC_HITS", "hits"),
		ConsumerGroup:    getEnv("KAFKA_CONSUMER_GROUP", "analytics-service"),
		ProducerRetries:  getEnvAsInt("KAFKA_PRODUCER_RETRIES", 3),
		ProducerTimeout:  getEnvAsDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
		RequiredAcks:     getEnvAsInt("KAFKA_REQUIRED_ACKS", -1), // -1 = все ISR реплики
		CompressionType:  getEnv("KAFKA_COMPRESSION", "snappy"),
		IdempotentWrites: getEnvAsBool("KAFKA_IDEMPOTENT", true),
		MaxMessageBytes:  getEnvAsInt("KAFKA_MAX_MESSAGE_BYTES", 1000000), // 1MB
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	sinks := []string{SinkPostgres, SinkSQLite, SinkRedis, SinkKafka}
	if !slices.Contains(sinks, c.Ingest.Sink) {
		return fmt.Errorf("%w: %q", ErrUnknownSink, c.Ingest.Sink)
	}
	if c.Ingest.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: MAX_BODY_BYTES must be positive", ErrInvalidSetting)
	}
	if c.Ingest.RateLimitRPS < 0 || c.Ingest.RateLimitBurst < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidSetting)
	}
	if c.Ingest.Sink == SinkKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: KAFKA_BROKERS is empty", ErrInvalidSetting)
	}
	return nil
}

func (c *PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Пустые элементы списка отбрасываются.
func getEnvAsSlice(key string, defaultValue []string) []string {
	var values []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
