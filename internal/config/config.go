package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	RedisURL    string
	DataDir     string
	TokenSecret string
	AccessTTL   time.Duration
	CORSOrigin  string
	ChatWindow  int
	// Meilisearch - optional, search falls back to a local scan when unset
	MeiliURL       string
	MeiliMasterKey string
	// MinIO - optional, avatar upload disabled when endpoint is empty
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

func Load() Config {
	return Config{
		Addr:           getenv("API_ADDR", ":8686"),
		RedisURL:       getenv("REDIS_URL", "redis://localhost:6379/0"),
		DataDir:        getenv("BREATHEWELL_DATA_DIR", "./data"),
		TokenSecret:    getenv("BREATHEWELL_TOKEN_SECRET", "breathewell-dev-secret"),
		AccessTTL:      time.Duration(getenvInt("BREATHEWELL_ACCESS_TTL_SECONDS", 3600)) * time.Second,
		CORSOrigin:     getenv("BREATHEWELL_CORS_ORIGIN", "*"),
		ChatWindow:     getenvInt("BREATHEWELL_CHAT_WINDOW", 200),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "avatars"),
		MinioUseSSL:    getenv("MINIO_USE_SSL", "") == "true",
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
