package config

import (
	"os"
	"strconv"
)

// Defaults that validateConfig refuses outside development.
const (
	DefaultJWTSecret     = "dev_secret_change_me"
	DefaultEncryptionKey = "dev-encryption-key-change-me"
)

type Config struct {
	// Server
	Env        string
	Port       string
	LogLevel   string
	AppBaseURL string
	CORSOrigin string

	// Database
	DatabaseURL string // postgres DSN; empty means embedded SQLite
	SQLitePath  string
	RedisURL    string

	// Security
	JWTSecret         string
	EncryptionKey     string
	AuthRatePerMinute int

	// Meta
	MetaAppID         string
	MetaAppSecret     string
	MetaRedirectURI   string
	MetaGraphVersion  string
	MetaGraphBaseURL  string
	MetaDialogBaseURL string

	// Jobs
	InsightsCronMinutes int

	// Uploads
	MaxUploadMB int
}

func Load() *Config {
	port := getEnv("PORT", "8080")
	appBaseURL := getEnv("APP_BASE_URL", "http://localhost:"+port)

	return &Config{
		// Server
		Env:        getEnv("ENV", "development"),
		Port:       port,
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		AppBaseURL: appBaseURL,
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "./data.sqlite"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Security
		JWTSecret:         getEnv("JWT_SECRET", DefaultJWTSecret),
		EncryptionKey:     getEnv("ENCRYPTION_KEY", DefaultEncryptionKey),
		AuthRatePerMinute: getEnvInt("AUTH_RATE_PER_MINUTE", 20),

		// Meta
		MetaAppID:         getEnv("META_APP_ID", ""),
		MetaAppSecret:     getEnv("META_APP_SECRET", ""),
		MetaRedirectURI:   getEnv("META_REDIRECT_URI", appBaseURL+"/meta/oauth/callback"),
		MetaGraphVersion:  getEnv("META_GRAPH_VERSION", "v24.0"),
		MetaGraphBaseURL:  getEnv("META_GRAPH_BASE_URL", "https://graph.facebook.com"),
		MetaDialogBaseURL: getEnv("META_DIALOG_BASE_URL", "https://www.facebook.com"),

		// Jobs
		InsightsCronMinutes: getEnvInt("INSIGHTS_CRON_MINUTES", 30),

		// Uploads
		MaxUploadMB: getEnvInt("MAX_UPLOAD_MB", 25),
	}
}

// IsDevelopment reports whether insecure defaults are tolerated.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// MaxUploadBytes is the creative upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
