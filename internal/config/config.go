package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	TokenSecret string
	CORSOrigin  string

	// Document store. Redis is preferred when configured, then Postgres;
	// with neither set the server runs on the in-memory store.
	RedisURL     string
	DatabaseURL  string
	Collection   string
	PollInterval time.Duration

	// Search (optional)
	MeiliURL       string
	MeiliMasterKey string

	// Media offload for inline images (optional)
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MediaPublicURL string
}

func Load() Config {
	return Config{
		Addr:         getenv("API_ADDR", ":8686"),
		TokenSecret:  getenv("THREADBOARD_TOKEN_SECRET", "threadboard-dev-secret"),
		CORSOrigin:   getenv("THREADBOARD_CORS_ORIGIN", "*"),
		RedisURL:     getenv("REDIS_URL", ""),
		DatabaseURL:  getenv("DATABASE_URL", ""),
		Collection:   getenv("THREADBOARD_COLLECTION", "comments"),
		PollInterval: time.Duration(getenvInt("THREADBOARD_POLL_MS", 250)) * time.Millisecond,
		// Search - empty by default, disabled if not configured
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		// Media - empty by default, inline images stay inline if not configured
		MinIOEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinIOBucket:    getenv("MINIO_BUCKET", "threadboard-media"),
		MinIOUseSSL:    getenvBool("MINIO_USE_SSL", false),
		MediaPublicURL: getenv("MEDIA_PUBLIC_URL", ""),
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

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
