package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Elastic  ElasticConfig
	Report   ReportConfig
	UsersAPI UsersAPIConfig
	Auth     AuthConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	OtelEnabled        bool
}

type ElasticConfig struct {
	Host             string
	User             string
	Password         string
	PageSize         int
	QueryMaxSize     int
	FileIndex        string
	BiospecimenIndex string
	MetadataTTL      time.Duration
	FamilyBatchSize  int
}

type ReportConfig struct {
	Project   string
	ConfigDir string
}

type UsersAPIConfig struct {
	URL     string
	Timeout time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "2000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			OtelEnabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
		Elastic: ElasticConfig{
			Host:             getEnv("ES_HOST", "http://localhost:9200"),
			User:             getEnv("ES_USER", ""),
			Password:         getEnv("ES_PASS", ""),
			PageSize:         getEnvAsInt("ES_PAGESIZE", 1000),
			QueryMaxSize:     getEnvAsInt("ES_QUERY_MAX_SIZE", 100000),
			FileIndex:        getEnv("ES_FILE_INDEX", "file_centric"),
			BiospecimenIndex: getEnv("ES_BIOSPECIMEN_INDEX", "biospecimen_centric"),
			MetadataTTL:      getEnvAsDuration("METADATA_TTL", 24*time.Hour),
			FamilyBatchSize:  getEnvAsInt("FAMILY_BATCH_SIZE", 1000),
		},
		Report: ReportConfig{
			Project:   strings.ToLower(strings.TrimSpace(getEnv("PROJECT", "include"))),
			ConfigDir: getEnv("REPORT_CONFIG_DIR", ""),
		},
		UsersAPI: UsersAPIConfig{
			URL:     getEnv("USERS_API_URL", "http://localhost:1212"),
			Timeout: getEnvAsDuration("USERS_API_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
