package config

import (
	"fmt"
	"log"
	"net/url"
	"time"

	"clearance-watch/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Telegram   TelegramConfig
	Sync       SyncConfig
	Categories []domain.Category `validate:"required,min=1,dive"`
}

type ServerConfig struct {
	Port     string `validate:"required"`
	Env      string `validate:"required"`
	LogLevel string `validate:"required,oneof=debug info warn error"`
}

type DatabaseConfig struct {
	Host          string `validate:"required"`
	Port          string `validate:"required"`
	User          string
	Password      string
	Database      string
	Schema        string
	MigrationsDir string `validate:"required"`
}

// RedisConfig is optional; an empty Addr selects the in-process pass lock
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration `validate:"gt=0"`
}

type TelegramConfig struct {
	BotToken string `validate:"required"`
	ChatID   string `validate:"required"`
	APIURL   string `validate:"required,url"`
}

type SyncConfig struct {
	Schedule         string        `validate:"required"`
	Retention        time.Duration `validate:"gt=0"`
	PageSize         int           `validate:"min=1"`
	MaxPages         int           `validate:"min=1"`
	NotifyThreshold  int           `validate:"min=1"`
	NotifyMaxRetries int           `validate:"min=0"`
	StoreBaseURL     string        `validate:"required,url"`
	AvailabilityURL  string        `validate:"required,url"`
	AvailabilityRPS  float64       `validate:"gt=0"`
	HTTPTimeout      time.Duration `validate:"gt=0"`
	RunOnStart       bool
}

// DefaultCategories is the static table of tracked clearance sections
var DefaultCategories = []domain.Category{
	{Key: "kids_2_8y", Label: "Kids 2-8Y", Path: "/kids/last-chance/2-8y.html"},
	{Key: "kids_9_14y", Label: "Kids 9-14Y", Path: "/kids/last-chance/9-14y.html"},
	{Key: "home", Label: "Home", Path: "/home/last-chance/view-all.html"},
	{Key: "newborn", Label: "Newborn", Path: "/baby/last-chance/newborn.html"},
	{Key: "baby", Label: "Baby", Path: "/baby/last-chance/baby.html"},
	{Key: "women", Label: "Women", Path: "/ladies/last-chance/view-all.html"},
	{Key: "men", Label: "Men", Path: "/men/last-chance/view-all.html"},
}

func Load() *Config {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not read .env file: %v", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOCK_TTL", "2h")
	v.SetDefault("TELEGRAM_API_URL", "https://api.telegram.org")
	v.SetDefault("SCHEDULE", "0 8,12,16,20 * * *")
	v.SetDefault("RETENTION_MS", int64(7*24*time.Hour/time.Millisecond))
	v.SetDefault("PAGE_SIZE", 36)
	v.SetDefault("MAX_PAGES", 50)
	v.SetDefault("NOTIFY_THRESHOLD", 6)
	v.SetDefault("NOTIFY_MAX_RETRIES", 5)
	v.SetDefault("STORE_BASE_URL", "https://www2.hm.com/hw_il")
	v.SetDefault("AVAILABILITY_URL", "https://www2.hm.com/hmwebservices/service/product/il/availability")
	v.SetDefault("AVAILABILITY_RPS", 2.0)
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("RUN_ON_START", false)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:     v.GetString("SERVER_PORT"),
			Env:      v.GetString("SERVER_ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Host:          v.GetString("DB_HOST"),
			Port:          v.GetString("DB_PORT"),
			User:          v.GetString("DB_USER"),
			Password:      v.GetString("DB_PASSWORD"),
			Database:      v.GetString("DB_DATABASE"),
			Schema:        v.GetString("DB_SCHEMA"),
			MigrationsDir: v.GetString("MIGRATIONS_DIR"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			LockTTL:  v.GetDuration("LOCK_TTL"),
		},
		Telegram: TelegramConfig{
			BotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
			ChatID:   v.GetString("TELEGRAM_CHAT_ID"),
			APIURL:   v.GetString("TELEGRAM_API_URL"),
		},
		Sync: SyncConfig{
			Schedule:         v.GetString("SCHEDULE"),
			Retention:        time.Duration(v.GetInt64("RETENTION_MS")) * time.Millisecond,
			PageSize:         v.GetInt("PAGE_SIZE"),
			MaxPages:         v.GetInt("MAX_PAGES"),
			NotifyThreshold:  v.GetInt("NOTIFY_THRESHOLD"),
			NotifyMaxRetries: v.GetInt("NOTIFY_MAX_RETRIES"),
			StoreBaseURL:     v.GetString("STORE_BASE_URL"),
			AvailabilityURL:  v.GetString("AVAILABILITY_URL"),
			AvailabilityRPS:  v.GetFloat64("AVAILABILITY_RPS"),
			HTTPTimeout:      v.GetDuration("HTTP_TIMEOUT"),
			RunOnStart:       v.GetBool("RUN_ON_START"),
		},
		Categories: DefaultCategories,
	}
}

// Validate checks required credentials and value ranges
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DSN builds a pgx connection string from the database settings
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   d.Host + ":" + d.Port,
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	if d.Schema != "" {
		q.Set("search_path", d.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
