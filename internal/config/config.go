package config

import (
	"os"
	"strconv"
)

// DatabaseConfig PostgreSQL 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 陪伴服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 陪伴服务特定配置
	Companion struct {
		// KV 存储配置
		Storage struct {
			KeyPrefix string // 存储键前缀，如 "companion:"
		}

		// 告警配置
		Alert struct {
			DebounceMS int // 告警评估防抖窗口（毫秒），默认 1000
		}

		// Twilio 短信/电话网关配置
		Twilio struct {
			BaseURL    string // API 地址，默认 "https://api.twilio.com"
			AccountSID string
			AuthToken  string
			FromNumber string // 发送方号码（E.164 格式）
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	// 陪伴服务配置
	cfg.Companion.Storage.KeyPrefix = getEnv("CACHE_COMPANION_PREFIX", "companion:")
	cfg.Companion.Alert.DebounceMS = getEnvInt("ALERT_DEBOUNCE_MS", 1000)

	cfg.Companion.Twilio.BaseURL = getEnv("TWILIO_BASE_URL", "https://api.twilio.com")
	cfg.Companion.Twilio.AccountSID = getEnv("TWILIO_ACCOUNT_SID", "")
	cfg.Companion.Twilio.AuthToken = getEnv("TWILIO_AUTH_TOKEN", "")
	cfg.Companion.Twilio.FromNumber = getEnv("TWILIO_FROM_NUMBER", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
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
