// Package config reads the server configuration from the environment and
// applies defaults so the binary can start with nothing but a DB_DSN and a
// JWT_SECRET set.
package config

import (
	"errors"
	"os"
)

type Config struct {
	Addr        string
	DatabaseDSN string
	RedisAddr   string
	JWTSecret   string
	InviteCode  string
	UploadDir   string
}

var ErrMissingDSN = errors.New("DB_DSN is not set")
var ErrMissingSecret = errors.New("JWT_SECRET is not set")

// FromEnv builds a Config from environment variables. DB_DSN and JWT_SECRET
// are required; everything else falls back to a sane default.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:        getenv("ADDR", ":8080"),
		DatabaseDSN: os.Getenv("DB_DSN"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		InviteCode:  os.Getenv("INVITE_CODE"),
		UploadDir:   getenv("UPLOAD_DIR", "public/uploads"),
	}

	if cfg.DatabaseDSN == "" {
		return Config{}, ErrMissingDSN
	}
	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingSecret
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
