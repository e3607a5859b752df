package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port        string
	BindAddress string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	RedisHost   string
	RedisPort   string
	JWTSecret   string
	UploadDir   string

	// Game tuning
	Countdown      time.Duration
	RevealDelay    time.Duration
	SweepInterval  time.Duration
	SweepRetention time.Duration
	SweepIdle      time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("load .env")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		BindAddress: getEnv("BIND_ADDRESS", "0.0.0.0"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "trencher"),
		DBPassword:  getEnv("DB_PASSWORD", "trencher123"),
		DBName:      getEnv("DB_NAME", "trencher"),
		RedisHost:   getEnv("REDIS_HOST", "localhost"),
		RedisPort:   getEnv("REDIS_PORT", "6379"),
		JWTSecret:   getEnv("JWT_SECRET", "change-me-in-production"),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),

		Countdown:      getEnvSeconds("GAME_COUNTDOWN_SECONDS", 5),
		RevealDelay:    getEnvSeconds("GAME_REVEAL_SECONDS", 3),
		SweepInterval:  getEnvSeconds("SWEEP_INTERVAL_SECONDS", 300),
		SweepRetention: getEnvSeconds("SWEEP_RETENTION_SECONDS", 3600),
		SweepIdle:      getEnvSeconds("SWEEP_IDLE_SECONDS", 7200),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring bad duration env")
	}
	return time.Duration(defaultValue) * time.Second
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
	})
}
