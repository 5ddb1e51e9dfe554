package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	HTTPPort           string
	LogLevel           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64
	CORSAllowOrigins   []string

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string
	CartCacheTTL  time.Duration

	Postgres Postgres

	CatalogDBPath    string
	CatalogCacheSize int
	CatalogCacheTTL  time.Duration

	KafkaBrokers          []string
	ConfirmationTopic     string
	ConfirmationGroupID   string
	CheckoutCompleteTopic string

	JWTSecret string

	ProcessorURL      string
	ProcessorAPIKey   string
	ProcessorTimeout  time.Duration
	WebhookSecret     string
	DefaultSessionTTL time.Duration
	Currency          string

	FlushWorkers       int
	FlushMaxElapsed    time.Duration
	SweepInterval      time.Duration
	OutboxPollInterval time.Duration
}

type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("loaded configuration from .env")
	}

	return &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RequestTimeout:     parseDuration(getEnv("REQUEST_TIMEOUT", "30s"), 30*time.Second),
		ShutdownTimeout:    parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
		MaxRequestBodySize: 1 << 20, // 1MB
		CORSAllowOrigins:   splitCSV(getEnv("CORS_ALLOW_ORIGINS", "*")),

		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "cartdb"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		CartCacheTTL:  parseDuration(getEnv("CART_CACHE_TTL", "15m"), 15*time.Minute),

		Postgres: Postgres{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     parseInt(getEnv("DB_PORT", "5432"), 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ecommerce"),
		},

		CatalogDBPath:    getEnv("CATALOG_DB_PATH", "./catalog.db"),
		CatalogCacheSize: parseInt(getEnv("CATALOG_CACHE_SIZE", "1024"), 1024),
		CatalogCacheTTL:  parseDuration(getEnv("CATALOG_CACHE_TTL", "1m"), time.Minute),

		KafkaBrokers:          splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		ConfirmationTopic:     getEnv("CONFIRMATION_TOPIC", "payment.confirmed"),
		ConfirmationGroupID:   getEnv("CONFIRMATION_GROUP_ID", "basket-service"),
		CheckoutCompleteTopic: getEnv("CHECKOUT_COMPLETED_TOPIC", "checkout.completed"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		ProcessorURL:      getEnv("PROCESSOR_URL", ""),
		ProcessorAPIKey:   getEnv("PROCESSOR_API_KEY", ""),
		ProcessorTimeout:  parseDuration(getEnv("PROCESSOR_TIMEOUT", "5s"), 5*time.Second),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		DefaultSessionTTL: parseDuration(getEnv("DEFAULT_SESSION_TTL", "30m"), 30*time.Minute),
		Currency:          getEnv("CURRENCY", "USD"),

		FlushWorkers:       parseInt(getEnv("FLUSH_WORKERS", "4"), 4),
		FlushMaxElapsed:    parseDuration(getEnv("FLUSH_MAX_ELAPSED", "30s"), 30*time.Second),
		SweepInterval:      parseDuration(getEnv("SWEEP_INTERVAL", "30s"), 30*time.Second),
		OutboxPollInterval: parseDuration(getEnv("OUTBOX_POLL_INTERVAL", "1s"), time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); strings.TrimSpace(value) != "" {
		return value
	}
	return defaultValue
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseInt(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
