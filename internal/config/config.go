package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        string
	StoreDriver string
	DatabaseURL string
	DataDir     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers string
	KafkaTopic   string

	SMSProvider     string
	SMSWebhookURL   string
	SMSWebhookToken string
	TemplatesFile   string

	VerifyCodeDigits int
	VerifyHashCost   int
	VerifyTTL        time.Duration
	SessionTTL       time.Duration
	StaffToken       string

	ETAPositionOffset int
	FanoutBuffer      int

	RateLimitPerMinute      int
	RateLimitBurst          int
	QueueRateLimitPerMinute int
	QueueRateLimitBurst     int

	LogLevel  string
	LogFormat string

	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64
}

// Load reads .env when present and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("read .env")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		StoreDriver: readString("STORE_DRIVER", "postgres"),
		DatabaseURL: os.Getenv("DB_DSN"),
		DataDir:     readString("DATA_DIR", "data"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       readInt("REDIS_DB", 0),

		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:   os.Getenv("KAFKA_TOPIC"),

		SMSProvider:     os.Getenv("SMS_PROVIDER"),
		SMSWebhookURL:   os.Getenv("SMS_WEBHOOK_URL"),
		SMSWebhookToken: os.Getenv("SMS_WEBHOOK_TOKEN"),
		TemplatesFile:   os.Getenv("TEMPLATES_FILE"),

		VerifyCodeDigits: readInt("VERIFY_CODE_DIGITS", 6),
		VerifyHashCost:   readInt("VERIFY_HASH_COST", 10),
		VerifyTTL:        readDurationSeconds("VERIFY_TTL_SECONDS", 300),
		SessionTTL:       time.Duration(readInt("SESSION_TTL_HOURS", 8)) * time.Hour,
		StaffToken:       os.Getenv("STAFF_TOKEN"),

		ETAPositionOffset: readInt("ETA_POSITION_OFFSET", 1),
		FanoutBuffer:      readInt("FANOUT_BUFFER", 256),

		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:          readInt("RATE_LIMIT_BURST", 30),
		QueueRateLimitPerMinute: readInt("QUEUE_RATE_LIMIT_PER_MIN", 600),
		QueueRateLimitBurst:     readInt("QUEUE_RATE_LIMIT_BURST", 120),

		LogLevel:  readString("LOG_LEVEL", "info"),
		LogFormat: readString("LOG_FORMAT", "json"),

		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:     readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSampleRatio: readFloat("TRACE_SAMPLE_RATIO", 1),
	}
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().Caller().Logger()
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
