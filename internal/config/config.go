// Package config собирает настройки сервиса из .env, окружения и флагов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/UkralStul/technews/internal/commenttree"
)

// Типы хранилищ.
const (
	StorageInMemory = "in-memory"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
)

type Config struct {
	Port          string
	Storage       string
	DatabaseURL   string
	MongoURI      string
	MongoDB       string
	JWTSecret     string
	JWTTTL        time.Duration
	LogFormat     string
	LogLevel      slog.Level
	MaxReplyLevel int

	// AdminEmails - пользователи с этими адресами получают роль администратора при регистрации.
	AdminEmails  []string
	SeedDemoData bool
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Load читает .env (если он есть), окружение и флаги командной строки.
// Флаги имеют приоритет над окружением.
func Load(args []string) (*Config, error) {
	// Отсутствие .env - нормальная ситуация для контейнера
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Storage:     getEnv("STORAGE", StorageInMemory),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:     getEnv("MONGO_DB", "technews"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.JWTTTL, err = time.ParseDuration(getEnv("JWT_TTL", "72h")); err != nil {
		return nil, fmt.Errorf("JWT_TTL: %w", err)
	}
	if cfg.MaxReplyLevel, err = strconv.Atoi(getEnv("MAX_REPLY_LEVEL", strconv.Itoa(commenttree.DefaultMaxLevel))); err != nil {
		return nil, fmt.Errorf("MAX_REPLY_LEVEL: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.SeedDemoData, err = strconv.ParseBool(getEnv("SEED_DEMO_DATA", "false")); err != nil {
		return nil, fmt.Errorf("SEED_DEMO_DATA: %w", err)
	}
	for _, e := range strings.Split(getEnv("ADMIN_EMAILS", ""), ",") {
		if e = strings.TrimSpace(strings.ToLower(e)); e != "" {
			cfg.AdminEmails = append(cfg.AdminEmails, e)
		}
	}

	fs := flag.NewFlagSet("technews", flag.ContinueOnError)
	fs.StringVar(&cfg.Storage, "storage", cfg.Storage, "Storage type (in-memory, postgres or mongo)")
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	fs.BoolVar(&cfg.SeedDemoData, "seed", cfg.SeedDemoData, "Fill in-memory storage with demo data")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageInMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL must be set for postgres storage")
		}
	case StorageMongo:
		if c.MongoURI == "" || c.MongoDB == "" {
			return errors.New("MONGO_URI and MONGO_DB must be set for mongo storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if c.MaxReplyLevel <= 0 {
		return errors.New("MAX_REPLY_LEVEL must be positive")
	}
	return nil
}

// IsAdminEmail сообщает, указан ли адрес в ADMIN_EMAILS.
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, e := range c.AdminEmails {
		if e == email {
			return true
		}
	}
	return false
}

// NewLogger создаёт логгер в формате из настроек.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	var h slog.Handler
	if strings.EqualFold(c.LogFormat, "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}
