package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int

	// Database
	PostgresHost       string
	PostgresPort       string
	PostgresUser       string
	PostgresPassword   string
	PostgresDB         string
	PostgresSSLMode    string
	PersistPredictions bool

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisEnabled  bool

	// Kafka
	KafkaBrokers           []string
	KafkaGroupID           string
	KafkaEnabled           bool
	PredictionEventsTopic  string
	PredictionRequestTopic string
	DeadLetterTopic        string
	ConsumerRetryAttempts  int
	ConsumerRetryBackoff   time.Duration

	// DHIS2
	DHIS2BaseURL        string
	DHIS2Username       string
	DHIS2Password       string
	DHIS2ClientID       string
	DHIS2ClientSecret   string
	DHIS2TokenURL       string
	DHIS2RequestTimeout time.Duration
	DHIS2RetryAttempts  int
	DHIS2Program        string
	DHIS2OrgUnit        string

	// Artifacts
	LabelEncoderURL      string
	ScalerURL            string
	ModelURL             string
	ArtifactFetchTimeout time.Duration
	ArtifactCacheTTL     time.Duration
	FeatureSchemaPath    string
	DisplayNamesPath     string

	// Pipeline
	PipelineTimeout   time.Duration
	ImportanceSeed    int64
	ImportanceWorkers int
	PositiveThreshold float64

	// Hotspots
	HotspotEpsKm     float64
	HotspotMinPoints int

	// Feature Store
	FeatureStoreCacheTTL time.Duration
}

func Load() *Config {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 2*time.Minute),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 40),

		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:       getEnv("POSTGRES_USER", "mdrtb"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", "mdrtb"),
		PostgresDB:         getEnv("POSTGRES_DB", "mdrtb"),
		PostgresSSLMode:    getEnv("POSTGRES_SSLMODE", "disable"),
		PersistPredictions: getBoolEnv("PERSIST_PREDICTIONS", true),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisEnabled:  getBoolEnv("REDIS_ENABLED", true),

		KafkaBrokers:           getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "mdrtb-prediction"),
		KafkaEnabled:           getBoolEnv("KAFKA_ENABLED", false),
		PredictionEventsTopic:  getEnv("PREDICTION_EVENTS_TOPIC", "prediction.events"),
		PredictionRequestTopic: getEnv("PREDICTION_REQUEST_TOPIC", "prediction.requested"),
		DeadLetterTopic:        getEnv("DEAD_LETTER_TOPIC", "prediction.requested.dlq"),
		ConsumerRetryAttempts:  getIntEnv("CONSUMER_RETRY_ATTEMPTS", 3),
		ConsumerRetryBackoff:   getDuration("CONSUMER_RETRY_BACKOFF", 2*time.Second),

		DHIS2BaseURL:        strings.TrimRight(getEnv("DHIS2_BASE_URL", "http://localhost:8081/api"), "/"),
		DHIS2Username:       getEnv("DHIS2_USERNAME", "admin"),
		DHIS2Password:       getEnv("DHIS2_PASSWORD", "district"),
		DHIS2ClientID:       getEnv("DHIS2_CLIENT_ID", ""),
		DHIS2ClientSecret:   getEnv("DHIS2_CLIENT_SECRET", ""),
		DHIS2TokenURL:       getEnv("DHIS2_TOKEN_URL", ""),
		DHIS2RequestTimeout: getDuration("DHIS2_REQUEST_TIMEOUT", 30*time.Second),
		DHIS2RetryAttempts:  getIntEnv("DHIS2_RETRY_ATTEMPTS", 3),
		DHIS2Program:        getEnv("DHIS2_PROGRAM", "wfd9K4dQVDR"),
		DHIS2OrgUnit:        getEnv("DHIS2_ORG_UNIT", "akV6429SUqu"),

		LabelEncoderURL:      getEnv("LABEL_ENCODER_URL", "file://artifacts/label_encoders.json"),
		ScalerURL:            getEnv("SCALER_URL", "file://artifacts/scalers.json"),
		ModelURL:             getEnv("MODEL_URL", "file://artifacts/model.json"),
		ArtifactFetchTimeout: getDuration("ARTIFACT_FETCH_TIMEOUT", 20*time.Second),
		ArtifactCacheTTL:     getDuration("ARTIFACT_CACHE_TTL", 24*time.Hour),
		FeatureSchemaPath:    getEnv("FEATURE_SCHEMA_PATH", ""),
		DisplayNamesPath:     getEnv("DISPLAY_NAMES_PATH", ""),

		PipelineTimeout:   getDuration("PIPELINE_TIMEOUT", 90*time.Second),
		ImportanceSeed:    int64(getIntEnv("IMPORTANCE_SEED", 42)),
		ImportanceWorkers: getIntEnv("IMPORTANCE_WORKERS", 4),
		PositiveThreshold: getFloatEnv("POSITIVE_THRESHOLD", 0.5),

		HotspotEpsKm:     getFloatEnv("HOTSPOT_EPS_KM", 0.0001),
		HotspotMinPoints: getIntEnv("HOTSPOT_MIN_POINTS", 3),

		FeatureStoreCacheTTL: getDuration("FEATURE_STORE_CACHE_TTL", 5*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
