package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	LogLevel       string
	Redis          RedisConfig

	// Timing and capacity knobs for the broadcast core.
	CallTimeout        time.Duration
	SweepInterval      time.Duration
	TypingTTL          time.Duration
	TypingSweepTTL     time.Duration
	RoomIdleTTL        time.Duration
	ChatHistoryCap     int
	ChatJoinReplay     int
	MaxMessageLength   int
	SlowModeSeconds    int
	StreamBufferFrames int
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func Load() *Config {
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},

		CallTimeout:        getEnvDuration("CALL_TIMEOUT", 5*time.Minute),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 45*time.Second),
		TypingTTL:          getEnvDuration("TYPING_TTL", 3*time.Second),
		TypingSweepTTL:     getEnvDuration("TYPING_SWEEP_TTL", 10*time.Second),
		RoomIdleTTL:        getEnvDuration("ROOM_IDLE_TTL", 30*time.Minute),
		ChatHistoryCap:     getEnvInt("CHAT_HISTORY_CAP", 200),
		ChatJoinReplay:     getEnvInt("CHAT_JOIN_REPLAY", 50),
		MaxMessageLength:   getEnvInt("MAX_MESSAGE_LENGTH", 500),
		SlowModeSeconds:    getEnvInt("SLOW_MODE_SECONDS", 0),
		StreamBufferFrames: getEnvInt("STREAM_BUFFER_FRAMES", 100),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
