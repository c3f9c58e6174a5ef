package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting for the server. Values come from the
// environment (with .env support for local development) plus an optional
// YAML file for provider tuning that should not be overridden per-deploy.
type Config struct {
	Port    string
	GinMode string
	AppURL  string

	// Session cookie signing. Mandatory; startup is fatal without it.
	SessionSecret   string
	SessionCookie   string
	SessionLifetime time.Duration

	// Admin is a single user matched by email equality.
	AdminEmail string

	// Storage
	DatabasePath string

	// Providers. An absent key means the provider is unavailable (501);
	// MockMode forces deterministic in-process providers regardless of keys.
	TranscribeAPIKey string
	ExtractAPIKey    string
	MockMode         bool

	// Provider tuning (overridable via the YAML config file).
	Providers *ProviderConfig `yaml:"providers"`

	// Zoom cloud-recording import
	ZoomClientID     string
	ZoomClientSecret string

	// Upload limits
	MaxUploadBytes int64

	// Database Connection Pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// Live streaming
	KeepaliveInterval time.Duration

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string
}

// ProviderConfig tunes the remote transcription and extraction providers.
type ProviderConfig struct {
	TranscribeBaseURL string `yaml:"transcribe_base_url"`
	TranscribeModel   string `yaml:"transcribe_model"`
	ExtractBaseURL    string `yaml:"extract_base_url"`
	ExtractModel      string `yaml:"extract_model"`
	ExtractMaxTokens  int    `yaml:"extract_max_tokens"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
}

// DefaultProviderConfig returns the provider defaults used when no YAML
// config file is present.
func DefaultProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		TranscribeBaseURL: "https://api.openai.com/v1",
		TranscribeModel:   "whisper-1",
		ExtractBaseURL:    "https://api.openai.com/v1",
		ExtractModel:      "gpt-4o-mini",
		ExtractMaxTokens:  1500,
		TimeoutSeconds:    180,
	}
}

var AppConfig *Config

// LoadConfig populates AppConfig from the environment. It terminates the
// process when SESSION_SECRET is absent: a server without a signing secret
// would issue unverifiable sessions.
func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),
		AppURL:  strings.TrimRight(getEnvOrDefault("APP_URL", "http://localhost:8080"), "/"),

		SessionSecret:   os.Getenv("SESSION_SECRET"),
		SessionCookie:   getEnvOrDefault("SESSION_COOKIE", "recap_session"),
		SessionLifetime: getEnvAsDuration("SESSION_LIFETIME", 30*24*time.Hour),

		AdminEmail: strings.TrimSpace(getEnvOrDefault("ADMIN_EMAIL", "")),

		DatabasePath: getEnvOrDefault("DATABASE_PATH", "recap.db"),

		TranscribeAPIKey: strings.TrimSpace(getEnvOrDefault("TRANSCRIBE_API_KEY", "")),
		ExtractAPIKey:    strings.TrimSpace(getEnvOrDefault("EXTRACT_API_KEY", "")),
		MockMode:         getEnvOrDefault("MOCK_MODE", "false") == "true",

		ZoomClientID:     getEnvOrDefault("ZOOM_CLIENT_ID", ""),
		ZoomClientSecret: getEnvOrDefault("ZOOM_CLIENT_SECRET", ""),

		MaxUploadBytes: getEnvAsInt64("MAX_UPLOAD_BYTES", 100*1024*1024),

		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 5),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 60),

		KeepaliveInterval: getEnvAsDuration("SSE_KEEPALIVE_INTERVAL", 15*time.Second),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if AppConfig.SessionSecret == "" {
		log.Fatal("SESSION_SECRET is required")
	}

	AppConfig.Providers = DefaultProviderConfig()

	// Optional provider config file. Unlike the mandatory env settings this
	// only tunes base URLs, model names and token budgets.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "")
	if configFilePath != "" {
		configFile, err := os.Open(configFilePath)
		if err != nil {
			log.Fatalf("Failed to open config file: %v", err)
		}
		defer configFile.Close()

		if err := LoadConfigFile(configFile, AppConfig); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	if AppConfig.MockMode {
		log.Println("MOCK_MODE enabled: transcription and extraction use deterministic mock providers")
	} else {
		if AppConfig.TranscribeAPIKey == "" {
			log.Println("Warning: TRANSCRIBE_API_KEY is missing; transcription endpoints will return 501")
		}
		if AppConfig.ExtractAPIKey == "" {
			log.Println("Warning: EXTRACT_API_KEY is missing; extraction endpoints will return 501")
		}
	}

	if AppConfig.ZoomClientID == "" || AppConfig.ZoomClientSecret == "" {
		log.Println("Warning: Zoom credentials are missing; /zoom/import will return 501")
	}

	if AppConfig.AdminEmail == "" {
		log.Println("Warning: ADMIN_EMAIL is not set; no admin user is recognized")
	}
}

// LoadConfigFile merges settings from a YAML reader into config.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)
	return decoder.Decode(config)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int64, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
