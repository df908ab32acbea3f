package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"chat-core/pkg/logger"
)

var ErrMissingSecret = errors.New("JWT_SECRET environment variable is required")

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// DatabaseConfig selects the store. An empty URL keeps everything in memory.
type DatabaseConfig struct {
	URL      string
	MaxConns int
}

type JWTConfig struct {
	Secret    []byte
	ExpiresIn time.Duration
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	APIURL          string
	WebSocketURL    string
	PreferencesPath string
	DialTimeout     time.Duration
	SendTimeout     time.Duration
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found or error loading .env file: %v", err)
	}
}

func LoadServer() (*Config, error) {
	loadDotEnv()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, ErrMissingSecret
	}
	readTimeout, err := getDurationOrDefault("READ_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	writeTimeout, err := getDurationOrDefault("WRITE_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	expiresIn, err := getDurationOrDefault("JWT_EXPIRES_IN", "24h")
	if err != nil {
		return nil, err
	}
	maxConns, err := getIntOrDefault("DATABASE_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Port:           getEnvOrDefault("PORT", ":8080"),
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: maxConns,
		},
		JWT: JWTConfig{
			Secret:    []byte(secret),
			ExpiresIn: expiresIn,
		},
	}, nil
}

func LoadClient() (*ClientConfig, error) {
	loadDotEnv()

	dialTimeout, err := getDurationOrDefault("CHAT_DIAL_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	sendTimeout, err := getDurationOrDefault("CHAT_SEND_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}

	prefs := os.Getenv("CHAT_PREFERENCES")
	if prefs == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		prefs = filepath.Join(dir, "chat-core", "preferences.json")
	}

	return &ClientConfig{
		APIURL:          getEnvOrDefault("CHAT_API_URL", "http://localhost:8080"),
		WebSocketURL:    getEnvOrDefault("CHAT_WS_URL", "ws://localhost:8080/ws"),
		PreferencesPath: prefs,
		DialTimeout:     dialTimeout,
		SendTimeout:     sendTimeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return duration, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return intValue, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
