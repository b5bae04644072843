package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	MaxTxAttempts         int
	PackLowStockPolicy    string
	ReconcileSchedule     string
	LogFormat             string
	LogLevel              string
}

// Load reads configuration from the environment. Values from a .env file in
// the working directory fill in anything the process environment leaves
// unset.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getInt("REDIS_DB", 0, 0),
		ReportCacheTTLSeconds: getInt("REPORT_CACHE_TTL_SECONDS", 30, 1),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		MaxTxAttempts:         getInt("MAX_TX_ATTEMPTS", 5, 1),
		PackLowStockPolicy:    strings.ToLower(strings.TrimSpace(getEnv("PACK_LOW_STOCK_POLICY", "either"))),
		ReconcileSchedule:     strings.TrimSpace(os.Getenv("RECONCILE_SCHEDULE")),
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "json")),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below lowest.
func getInt(key string, fallback int, lowest int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < lowest {
		return fallback
	}
	return n
}
