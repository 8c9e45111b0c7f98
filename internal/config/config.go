package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr      string
	JWTSecret string
	JWTTTLMin int

	SQLiteDSN string

	RedisAddr      string // selects the shared presence registry when set
	PresenceTTLSec int

	MaxMessageChars int

	SendGridAPIKey string
	SendGridFrom   string
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func MustLoad() Config {
	cfg := Config{
		Addr:            getenv("HTTP_ADDR", ":8080"),
		JWTSecret:       getenv("JWT_SECRET", ""),
		JWTTTLMin:       getenvInt("JWT_TTL_MIN", 1440),
		SQLiteDSN:       getenv("SQLITE_DSN", "file:marketchat.db?_pragma=foreign_keys(ON)"),
		RedisAddr:       getenv("REDIS_ADDR", ""),
		PresenceTTLSec:  getenvInt("PRESENCE_TTL_SEC", 90),
		MaxMessageChars: getenvInt("MAX_MESSAGE_CHARS", 5000),
		SendGridAPIKey:  getenv("SENDGRID_API_KEY", ""),
		SendGridFrom:    getenv("SENDGRID_FROM", ""),
	}
	return cfg
}
